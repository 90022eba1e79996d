// Package metrics exposes the Prometheus counters and gauges described in
// §5/§7's back-pressure and error-taxonomy language ("count, drop,
// continue") as an actual observability surface: GMAC failures, reorder
// drops, frame completion/drop/freeze counts, congestion reports sent, and
// emergency-recovery state transitions. Registration happens once per
// process against the default registry; Serve exposes them over HTTP only
// when the engine is configured with a metrics address.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remoteplay/takion/internal/logging"
)

var log = logging.L("metrics")

// Registry bundles every metric the engine reports, namespaced "takion".
type Registry struct {
	GMACMismatches   prometheus.Counter
	DecryptFailures  prometheus.Counter
	ParseErrors      prometheus.Counter
	ReorderDrops     *prometheus.CounterVec // label "reason": late, duplicate, overflow
	ReorderTimeouts  prometheus.Counter
	FramesCompleted  *prometheus.CounterVec // label "kind": video, audio
	FramesDropped    *prometheus.CounterVec
	FramesFrozen     *prometheus.CounterVec
	CongestionSent   prometheus.Counter
	FeedbackSent     *prometheus.CounterVec // label "kind": state, event
	SupervisorState  prometheus.Gauge       // current supervisor state, as an ordinal
	SupervisorTrans  *prometheus.CounterVec // label "to"
	ReconnectsTotal  prometheus.Counter
	IDRRequestsTotal prometheus.Counter
	CipherKeyPos     prometheus.Gauge
}

// New constructs and registers a Registry against reg. Pass
// prometheus.DefaultRegisterer for process-wide metrics, or a fresh
// *prometheus.Registry in tests to avoid collisions between cases.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		GMACMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "gmac_mismatches_total",
			Help: "Packets dropped for failing GMAC verification.",
		}),
		DecryptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "decrypt_failures_total",
			Help: "AV packets dropped after a decrypt-stage parse failure.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "parse_errors_total",
			Help: "Datagrams dropped for failing wire parsing.",
		}),
		ReorderDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "reorder_drops_total",
			Help: "Packets dropped by the reorder queue, by reason.",
		}, []string{"reason"}),
		ReorderTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "reorder_timeout_drops_total",
			Help: "Reserved holes dropped by a reorder-queue Flush timeout.",
		}),
		FramesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "frames_completed_total",
			Help: "Frames successfully reassembled, by stream kind.",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "frames_dropped_total",
			Help: "Frames abandoned with no prior frame to reuse, by stream kind.",
		}, []string{"kind"}),
		FramesFrozen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "frames_frozen_total",
			Help: "Frames abandoned and covered by reusing the last complete frame, by stream kind.",
		}, []string{"kind"}),
		CongestionSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "congestion_reports_sent_total",
			Help: "Congestion reports sent to the console.",
		}),
		FeedbackSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "feedback_packets_sent_total",
			Help: "Controller feedback packets sent, by kind (state, event).",
		}, []string{"kind"}),
		SupervisorState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "takion", Name: "supervisor_state",
			Help: "Current EmergencyRecoverySupervisor state as an ordinal (0=Healthy .. 3=Reconnecting).",
		}),
		SupervisorTrans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takion", Name: "supervisor_transitions_total",
			Help: "EmergencyRecoverySupervisor state transitions, by destination state.",
		}, []string{"to"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "reconnects_total",
			Help: "Emergency Takion reconnects performed.",
		}),
		IDRRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "takion", Name: "idr_requests_sent_total",
			Help: "IDRREQUEST protobuf messages actually sent (after rate limiting).",
		}),
		CipherKeyPos: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "takion", Name: "cipher_key_pos",
			Help: "Current outbound StreamCipher key_pos offset.",
		}),
	}
}

// Server optionally serves the registry's metrics over HTTP at /metrics.
type Server struct {
	srv *http.Server
}

// Serve starts an HTTP server on addr exposing /metrics for gatherer.
// Returns nil immediately if addr is empty (metrics disabled).
func Serve(addr string, gatherer prometheus.Gatherer) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("metrics server listening", "addr", addr)
	return &Server{srv: srv}
}

// Shutdown stops the metrics HTTP server, if one is running.
func (s *Server) Shutdown(ctx context.Context) {
	if s == nil || s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
}
