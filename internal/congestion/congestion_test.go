package congestion

import (
	"testing"

	"github.com/remoteplay/takion/internal/cipher"
	"github.com/remoteplay/takion/internal/wire"
)

func testCipher(t *testing.T) *cipher.StreamCipher {
	t.Helper()
	c, err := cipher.New(make([]byte, 16), make([]byte, 32))
	if err != nil {
		t.Fatalf("cipher.New: %v", err)
	}
	return c
}

func TestTickReportsDrainedCounters(t *testing.T) {
	c := testCipher(t)
	var sent []byte
	ctl := NewController(c, func(buf []byte) { sent = buf })

	ctl.Video.Add(10)
	ctl.Video.AddLost(2)
	ctl.Audio.Add(3)

	ctl.Tick()

	report, err := wire.ParseCongestion(sent)
	if err != nil {
		t.Fatalf("ParseCongestion: %v", err)
	}
	if report.PacketsReceived != 13 || report.PacketsLost != 2 {
		t.Fatalf("report = %+v, want received=13 lost=2", report)
	}
}

func TestTickResetsCountersBetweenSends(t *testing.T) {
	c := testCipher(t)
	var sent []byte
	ctl := NewController(c, func(buf []byte) { sent = buf })

	ctl.Video.Add(5)
	ctl.Tick()
	ctl.Tick() // nothing accumulated since the first drain

	report, _ := wire.ParseCongestion(sent)
	if report.PacketsReceived != 0 {
		t.Fatalf("PacketsReceived = %d, want 0 on the second, empty tick", report.PacketsReceived)
	}
}

func TestSustainedModeOverridesSample(t *testing.T) {
	c := testCipher(t)
	var sent []byte
	ctl := NewController(c, func(buf []byte) { sent = buf })

	ctl.Video.Add(1000) // would normally dominate the sample
	ctl.SetSustained(true)
	ctl.Tick()

	report, _ := wire.ParseCongestion(sent)
	if report.PacketsReceived != 5 || report.PacketsLost != 5 {
		t.Fatalf("report = %+v, want the fixed sustained-congestion pair (5,5)", report)
	}
	if !ctl.Sustained() {
		t.Fatal("Sustained() should report true")
	}
}
