package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GMACMismatches.Inc()
	m.ReorderDrops.WithLabelValues("late").Inc()
	m.FramesCompleted.WithLabelValues("video").Add(3)
	m.SupervisorState.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families, got none")
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "takion_frames_completed_total" {
			found = true
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() != 3 {
					t.Fatalf("frames_completed_total = %v, want 3", metric.GetCounter().GetValue())
				}
			}
		}
	}
	if !found {
		t.Fatal("takion_frames_completed_total not found in gathered families")
	}
}

func TestServeDisabledWithEmptyAddr(t *testing.T) {
	reg := prometheus.NewRegistry()
	if s := Serve("", reg); s != nil {
		t.Fatal("Serve with empty addr should return nil")
	}
}
