// Package takion is the public API for the Takion streaming engine: a
// client-side implementation of the PlayStation Remote Play UDP session
// protocol. Session wraps internal/session.Session, narrowing its
// construction surface to the two things a caller actually supplies — the
// registration identity handed back by the console pairing flow, and an
// AVReceiver to consume decoded frames and controller-facing events — and
// translating its push-model callbacks into a single ordered EngineEvent
// channel.
package takion

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/remoteplay/takion/internal/config"
	"github.com/remoteplay/takion/internal/feedback"
	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/metrics"
	"github.com/remoteplay/takion/internal/session"
)

// ControllerState and Button re-export internal/feedback's types so
// callers don't need to import that package directly just to drive
// UpdateControllerState.
type (
	ControllerState = feedback.ControllerState
	Button          = feedback.Button
	DPad            = feedback.DPad
)

// HostType selects the feedback payload shape and controller identity
// advertised during the handshake.
type HostType int

const (
	PS4 HostType = iota
	PS5
)

func (h HostType) String() string {
	if h == PS4 {
		return "ps4"
	}
	return "ps5"
}

// Identity is the per-session registration state produced by the console
// pairing/registration flow: a shared secret and IV, the host's stream
// endpoint, and the Ed25519 key pair used to authenticate the ECDH
// exchange in BIG/BANG. It is opaque to and unmodified by Session.
type Identity struct {
	SessionID    string
	Secret       []byte
	SessionIV    []byte
	HostEndpoint string

	SigningKey    ed25519.PrivateKey
	PeerVerifyKey ed25519.PublicKey
}

// LaunchOptions is the stream shape requested in BIG, before the console
// has advertised its own STREAMINFO profiles.
type LaunchOptions struct {
	Width, Height, FPS, BitrateKbps int
	Codec                           string // "h264", "h265", "av1"
	HDR                             bool
}

// Config bundles the tunables a caller may want to override from
// internal/config.Config. New falls back to config.Default() only when
// cfg is nil; a non-nil Config is used as given, zero-valued fields
// included. Most callers should just load a
// config.Config via config.Load and pass it through unmodified.
type Config = config.Config

// EngineEventKind discriminates the EngineEvent union.
type EngineEventKind int

const (
	EventReady EngineEventKind = iota
	EventStreamInfo
	EventHealth
	EventRumble
	EventPadInfo
	EventDisconnected
)

// EngineEvent is the single ordered stream a caller observes for
// everything about a running Session that isn't an AV frame: handshake
// completion, STREAMINFO arrival, per-frame health, haptic/LED feedback
// from the console, and eventual disconnect. The engine callbacks behind
// these run on a bounded worker pool, or inline when its queue is full,
// and emitting never blocks (a full channel drops its oldest event), so a
// slow consumer cannot stall decryption or dispatch.
type EngineEvent struct {
	Kind EngineEventKind

	// EventStreamInfo
	VideoHeader, AudioHeader []byte

	// EventHealth
	Health frame.HealthEvent

	// EventRumble
	RumbleLeft, RumbleRight float64

	// EventPadInfo
	LED              [3]byte
	PlayerIndex      uint8
	MotionResetEvent bool

	// EventDisconnected
	Reason string
}

// AVReceiver consumes decoded audio/video frames as they complete
// reassembly. Implementations must not block: Session calls these directly
// from its video and audio pipeline workers, so a receiver that blocks
// stalls delivery of every later frame of that kind.
type AVReceiver interface {
	OnVideoFrame(data []byte, isKeyframe bool, frameIndex uint16)
	OnAudioFrame(data []byte, frameIndex uint16)
}

// Session is a running (or not-yet-started) Takion engine instance.
type Session struct {
	inner   *session.Session
	events  chan EngineEvent
	metrics *metrics.Registry
}

// New constructs a Session against identity and cfg, delivering decoded
// frames to recv and every other engine occurrence on the returned
// EngineEvent channel. The channel is closed once Stop has fully drained
// the session's tasks. reg may be nil to disable Prometheus registration
// (tests commonly pass a fresh prometheus.NewRegistry() instead).
func New(identity Identity, launch LaunchOptions, cfg *config.Config, recv AVReceiver, reg *metrics.Registry) *Session {
	if cfg == nil {
		cfg = config.Default()
	}

	events := make(chan EngineEvent, cfg.WorkerPoolQueueSize)

	s := &Session{events: events, metrics: reg}

	cb := session.Callbacks{
		OnStreamInfo: func(video, audio []byte) {
			s.emit(EngineEvent{Kind: EventStreamInfo, VideoHeader: video, AudioHeader: audio})
		},
		OnVideoFrame: recv.OnVideoFrame,
		OnAudioFrame: recv.OnAudioFrame,
		OnRumble: func(left, right float64) {
			s.emit(EngineEvent{Kind: EventRumble, RumbleLeft: left, RumbleRight: right})
		},
		OnPadInfo: func(led [3]byte, playerIndex uint8, motionReset bool) {
			s.emit(EngineEvent{Kind: EventPadInfo, LED: led, PlayerIndex: playerIndex, MotionResetEvent: motionReset})
		},
		OnHealth: func(ev frame.HealthEvent) {
			s.emit(EngineEvent{Kind: EventHealth, Health: ev})
		},
		OnDisconnect: func(reason string) {
			s.emit(EngineEvent{Kind: EventDisconnected, Reason: reason})
		},
	}

	s.inner = session.New(
		session.Identity{
			SessionID:     identity.SessionID,
			Secret:        identity.Secret,
			SessionIV:     identity.SessionIV,
			HostEndpoint:  identity.HostEndpoint,
			SigningKey:    identity.SigningKey,
			PeerVerifyKey: identity.PeerVerifyKey,
		},
		session.LaunchOptions{
			Width: launch.Width, Height: launch.Height, FPS: launch.FPS,
			BitrateKbps: launch.BitrateKbps, Codec: launch.Codec, HDR: launch.HDR,
		},
		tunablesFromConfig(cfg),
		cb,
		reg,
	)

	return s
}

// Start runs the handshake to completion and launches every long-lived
// task, blocking until the session reaches READY or the handshake's
// retry budget is exhausted.
func (s *Session) Start(ctx context.Context) error {
	if err := s.inner.Start(ctx); err != nil {
		return err
	}
	s.emit(EngineEvent{Kind: EventReady})
	return nil
}

// Stop idempotently tears the session down and closes the event channel.
// Safe to call more than once and from any goroutine.
func (s *Session) Stop() {
	s.inner.Stop()
	s.closeEventsOnce()
}

// UpdateControllerState reports the current pad state for the next
// periodic feedback packet.
func (s *Session) UpdateControllerState(state ControllerState) {
	s.inner.UpdateControllerState(state)
}

// ReportButton sends an immediate feedback event packet outside the
// periodic state cadence, for a button the console should see with
// minimum latency.
func (s *Session) ReportButton(button Button, isPress bool) {
	s.inner.ReportButton(button, isPress)
}

// RequestKeyframe asks the console for an out-of-band IDR, subject to the
// configured rate limit.
func (s *Session) RequestKeyframe() {
	s.inner.RequestKeyframe()
}

// Metrics returns the Registry passed to New, or nil if none was given.
func (s *Session) Metrics() *metrics.Registry {
	return s.metrics
}

// Events returns the channel of EngineEvent occurrences. Callers should
// drain it for the lifetime of the Session; a full channel causes Session
// to drop the oldest unread event rather than block engine tasks.
func (s *Session) Events() <-chan EngineEvent {
	return s.events
}

func (s *Session) emit(ev EngineEvent) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *Session) closeEventsOnce() {
	defer func() { recover() }()
	close(s.events)
}

func tunablesFromConfig(cfg *config.Config) session.Tunables {
	return session.Tunables{
		HostType: cfg.HostType,

		VideoReorderSizeStart: cfg.VideoReorderSizeStart,
		VideoReorderSizeMax:   cfg.VideoReorderSizeMax,
		VideoReorderTimeout:   time.Duration(cfg.VideoReorderTimeoutMs) * time.Millisecond,
		MaxFrameWait:          time.Duration(cfg.MaxFrameWaitMs) * time.Millisecond,
		PipelineOutputCap:     cfg.PipelineOutputCapacity,
		DuplicateTSNCacheSize: cfg.DuplicateTSNCacheSize,

		HeartbeatInterval:  time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		FeedbackInterval:   time.Duration(cfg.FeedbackStateIntervalMs) * time.Millisecond,
		CongestionInterval: time.Duration(cfg.CongestionIntervalMs) * time.Millisecond,
		StallCheckInterval: time.Duration(cfg.StallCheckIntervalMs) * time.Millisecond,
		StallThreshold:     time.Duration(cfg.StallThresholdMs) * time.Millisecond,

		IDRBurstCount:    cfg.IDRBurstCount,
		IDRBurstInterval: time.Duration(cfg.IDRBurstIntervalMs) * time.Millisecond,
		IDRSteady:        time.Duration(cfg.IDRSteadyIntervalMs) * time.Millisecond,
		IDRCooldown:      time.Duration(cfg.IDRCooldownMs) * time.Millisecond,

		DegradedHeavyThreshold:   cfg.DegradedLightThreshold,
		ReconnectThreshold:       cfg.DegradedHeavyThreshold,
		RecoverySuccessThreshold: cfg.RecoverySuccessThreshold,
		RecoveryFrameAdvance:     cfg.RecoveryFrameAdvance,
		RecoveryMinElapsed:       time.Duration(cfg.RecoveryMinElapsedMs) * time.Millisecond,

		WorkerPoolSize:      cfg.WorkerPoolSize,
		WorkerPoolQueueSize: cfg.WorkerPoolQueueSize,
	}
}

// NewMetrics constructs and registers a metrics.Registry, a thin
// re-export so callers don't need to import internal/metrics directly
// just to wire Prometheus in. Pass prometheus.DefaultRegisterer for
// process-wide metrics.
func NewMetrics(reg prometheus.Registerer) *metrics.Registry {
	return metrics.New(reg)
}

// ServeMetrics starts an HTTP server exposing gatherer's metrics at
// /metrics on addr; a no-op returning nil if addr is empty.
func ServeMetrics(addr string, gatherer prometheus.Gatherer) *metrics.Server {
	return metrics.Serve(addr, gatherer)
}
