// Package supervisor implements the EmergencyRecoverySupervisor state
// machine of §4.9: it watches the stream of frame.HealthEvent values
// produced by the video/audio assemblers (and the stall-check task) and
// escalates sustained loss through keyframe requests, a corrupt-frame
// report, sustained-congestion mode, and ultimately a full Takion
// reconnect — without ever releasing the outer user session.
package supervisor

import (
	"sync"
	"time"

	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/health"
	"github.com/remoteplay/takion/internal/logging"
)

var log = logging.L("supervisor")

// State is one of the four states in §4.9's transition table.
type State int

const (
	Healthy State = iota
	DegradedLight
	DegradedHeavy
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case DegradedLight:
		return "degraded_light"
	case DegradedHeavy:
		return "degraded_heavy"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds the §4.9/§10.2 escalation thresholds.
type Config struct {
	DegradedHeavyThreshold   int           // consecutive failures to escalate DegradedLight -> DegradedHeavy
	ReconnectThreshold       int           // consecutive failures to escalate DegradedHeavy -> Reconnecting
	NoPacketTimeout          time.Duration // silence duration that also triggers Reconnecting from DegradedHeavy
	RecoverySuccessThreshold int           // consecutive Success events required to fall back to Healthy
	RecoveryFrameAdvance     uint16        // frames since last fallback required, wrap-aware
	RecoveryMinElapsed       time.Duration // wall-clock time since last fallback required
}

// Callbacks are the narrow, one-directional hooks §9's design notes call
// for: the supervisor never holds a reference to TakionSession, only to
// these closures.
type Callbacks struct {
	RequestKeyframe  func()
	SetSustained     func(on bool)
	SendCorruptFrame func(start, end uint16)
	ResetStreamState func()
	ReconnectTakion  func() error
	OnStateChange    func(from, to State)
}

// Supervisor is the EmergencyRecoverySupervisor of §4.9.
type Supervisor struct {
	mu  sync.Mutex
	cfg Config
	cb  Callbacks

	state State

	consecutiveFailures  int
	consecutiveSuccesses int

	corruptStart  uint16
	corruptActive bool

	lastPacketAt     time.Time
	lastFallbackAt   time.Time
	lastFallbackIdx  uint16
	haveFallbackIdx  bool
	reconnecting     bool

	health *health.Monitor
}

// New builds a Supervisor starting in the Healthy state.
func New(cfg Config, cb Callbacks) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		cb:           cb,
		state:        Healthy,
		lastPacketAt: time.Now(),
		health:       health.NewMonitor(),
	}
	s.health.Update("socket", health.Healthy, "")
	s.health.Update("cipher", health.Healthy, "")
	return s
}

// Health returns the subsystem health monitor tracking component
// readiness (socket, cipher) alongside the StreamHealthEvent-driven state
// machine above; it is updated around the emergency-reconnect lifecycle
// in escalateToReconnectLocked, not probed directly.
func (s *Supervisor) Health() *health.Monitor {
	return s.health
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NotePacketReceived resets the silence clock the stall-check path watches
// (§4.10's "2 s cadence task checks now - last_packet_received_time").
func (s *Supervisor) NotePacketReceived(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacketAt = now
}

// CheckStall is driven by the session's 2 s stall-check task (§4.10,
// §5 task 9). If no packet has arrived for longer than NoPacketTimeout and
// a recovery is not already underway, it synthesizes a Dropped event to
// kick the state machine, the same path a real frame timeout would take.
func (s *Supervisor) CheckStall(now time.Time) {
	s.mu.Lock()
	silent := !s.lastPacketAt.IsZero() && now.Sub(s.lastPacketAt) > s.cfg.NoPacketTimeout
	alreadyReconnecting := s.reconnecting
	s.mu.Unlock()

	if !silent || alreadyReconnecting {
		return
	}
	log.Warn("no packet received within stall threshold, synthesizing health event")
	s.Observe(frame.HealthEvent{
		Timestamp:  now,
		Status:     frame.Dropped,
		FrameIndex: s.lastCorruptEnd(),
	})
}

func (s *Supervisor) lastCorruptEnd() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFallbackIdx
}

// Observe feeds one StreamHealthEvent into the state machine (§4.9's
// transition table). It is called synchronously from whichever pipeline
// worker's assembler produced the event; all mutation is mutex-guarded so
// video and audio events may arrive concurrently.
func (s *Supervisor) Observe(ev frame.HealthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPacketAt = ev.Timestamp
	if ev.Status == frame.Frozen || ev.Status == frame.Dropped {
		s.onFailureLocked(ev)
		return
	}
	s.onSuccessLocked(ev)
}

func (s *Supervisor) onFailureLocked(ev frame.HealthEvent) {
	s.consecutiveSuccesses = 0
	s.consecutiveFailures++

	if !s.corruptActive {
		s.corruptActive = true
		s.corruptStart = ev.FrameIndex
	}

	switch s.state {
	case Healthy:
		if s.consecutiveFailures >= 2 {
			s.transitionLocked(DegradedLight)
			s.armFallbackLocked(ev.FrameIndex)
			if s.cb.RequestKeyframe != nil {
				s.cb.RequestKeyframe()
			}
			if s.cb.SetSustained != nil {
				s.cb.SetSustained(true)
			}
		}
	case DegradedLight:
		if s.consecutiveFailures >= s.cfg.DegradedHeavyThreshold {
			s.transitionLocked(DegradedHeavy)
			if s.cb.SendCorruptFrame != nil {
				s.cb.SendCorruptFrame(s.corruptStart, ev.FrameIndex)
			}
			if s.cb.RequestKeyframe != nil {
				s.cb.RequestKeyframe()
			}
		}
	case DegradedHeavy:
		if s.consecutiveFailures >= s.cfg.ReconnectThreshold {
			s.escalateToReconnectLocked()
		}
	case Reconnecting:
		// Already escalating; further failures don't re-trigger a reconnect.
	}
}

func (s *Supervisor) onSuccessLocked(ev frame.HealthEvent) {
	s.consecutiveFailures = 0
	s.corruptActive = false
	s.consecutiveSuccesses++

	if s.state == Healthy {
		return
	}

	if !s.haveFallbackIdx {
		return
	}
	advanced := uint16(ev.FrameIndex-s.lastFallbackIdx) >= s.cfg.RecoveryFrameAdvance
	enoughSuccesses := s.consecutiveSuccesses >= s.cfg.RecoverySuccessThreshold
	enoughElapsed := s.lastFallbackAt.IsZero() || time.Since(s.lastFallbackAt) >= s.cfg.RecoveryMinElapsed

	if enoughSuccesses && advanced && enoughElapsed && s.state != Reconnecting {
		s.transitionLocked(Healthy)
		if s.cb.SetSustained != nil {
			s.cb.SetSustained(false)
		}
		s.consecutiveFailures = 0
		s.consecutiveSuccesses = 0
		s.haveFallbackIdx = false
	}
}

func (s *Supervisor) armFallbackLocked(frameIndex uint16) {
	s.lastFallbackIdx = frameIndex
	s.lastFallbackAt = time.Now()
	s.haveFallbackIdx = true
}

func (s *Supervisor) escalateToReconnectLocked() {
	s.transitionLocked(Reconnecting)
	s.reconnecting = true
	s.health.Update("socket", health.Degraded, "reconnect in progress")
	s.health.Update("cipher", health.Degraded, "reconnect in progress")

	resetFn := s.cb.ResetStreamState
	reconnectFn := s.cb.ReconnectTakion
	onDone := s.cb.RequestKeyframe
	stateChange := s.cb.OnStateChange

	go func() {
		if resetFn != nil {
			resetFn()
		}
		var err error
		if reconnectFn != nil {
			err = reconnectFn()
		}
		if err != nil {
			log.Error("emergency reconnect failed", "error", err)
			s.health.Update("socket", health.Unhealthy, err.Error())
			s.health.Update("cipher", health.Unhealthy, err.Error())
			return
		}
		s.health.Update("socket", health.Healthy, "")
		s.health.Update("cipher", health.Healthy, "")
		s.mu.Lock()
		s.reconnecting = false
		s.state = Healthy
		s.consecutiveFailures = 0
		s.consecutiveSuccesses = 0
		s.haveFallbackIdx = false
		s.mu.Unlock()
		if stateChange != nil {
			stateChange(Reconnecting, Healthy)
		}
		if onDone != nil {
			onDone()
		}
	}()
}

func (s *Supervisor) transitionLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	log.Info("supervisor state transition", "from", from, "to", to)
	if s.cb.OnStateChange != nil {
		cb := s.cb.OnStateChange
		go cb(from, to)
	}
}
