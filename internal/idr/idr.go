// Package idr implements the rate-limited keyframe requester of §4.10: an
// initial burst of IDRREQUEST messages after BANG, then a steady cadence,
// with a public RequestNow that's cooldown-limited and deferred until the
// cipher is ready.
package idr

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/remoteplay/takion/internal/logging"
)

var log = logging.L("idr")

// Requester drives the §4.10 IDR cadence: BurstCount requests at
// BurstInterval immediately after BANG, then one every SteadyInterval.
// RequestNow additionally lets the session (or the emergency-recovery
// supervisor) ask for an out-of-band keyframe, subject to Cooldown.
type Requester struct {
	mu        sync.Mutex
	send      func()
	limiter   *rate.Limiter
	cooldown  time.Duration
	cipherOK  bool
	pending   bool
	lastSent  time.Time
	burstLeft int

	burstCount    int
	burstInterval time.Duration
	steadyInterval time.Duration

	burstTimer  *time.Timer
	steadyTimer *time.Timer
}

// Config bundles the §5/§10.2 IDR cadence tunables.
type Config struct {
	BurstCount     int
	BurstInterval  time.Duration
	SteadyInterval time.Duration
	Cooldown       time.Duration
}

// New builds a Requester. send is called synchronously whenever an
// IDRREQUEST should actually go out on the wire; the caller is expected to
// serialize it under the session's single send-lock.
func New(cfg Config, send func()) *Requester {
	r := &Requester{
		send:           send,
		limiter:        rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		cooldown:       cfg.Cooldown,
		burstCount:     cfg.BurstCount,
		burstInterval:  cfg.BurstInterval,
		steadyInterval: cfg.SteadyInterval,
	}
	return r
}

// StartAfterBang begins the post-handshake IDR cadence of §4.10: an
// initial burst, then a steady trickle. The cipher is assumed ready by
// the time BANG completes, so any pending RequestNow flushes immediately.
func (r *Requester) StartAfterBang() {
	r.mu.Lock()
	r.cipherOK = true
	r.burstLeft = r.burstCount
	pending := r.pending
	r.pending = false
	r.mu.Unlock()

	if pending {
		r.sendUnconditional()
	}
	r.fireBurst()
}

func (r *Requester) fireBurst() {
	r.mu.Lock()
	left := r.burstLeft
	r.mu.Unlock()
	if left <= 0 {
		r.scheduleSteady()
		return
	}
	r.sendUnconditional()
	r.mu.Lock()
	r.burstLeft--
	remaining := r.burstLeft
	r.mu.Unlock()
	if remaining <= 0 {
		r.scheduleSteady()
		return
	}
	r.burstTimer = time.AfterFunc(r.burstInterval, r.fireBurst)
}

func (r *Requester) scheduleSteady() {
	r.steadyTimer = time.AfterFunc(r.steadyInterval, r.steadyTick)
}

func (r *Requester) steadyTick() {
	r.sendUnconditional()
	r.steadyTimer = time.AfterFunc(r.steadyInterval, r.steadyTick)
}

// RequestNow is the public request_keyframe() of §4.10: rate-limited to
// one send per Cooldown. If the cipher isn't ready yet, the request is
// remembered and flushed once StartAfterBang runs.
func (r *Requester) RequestNow() {
	r.mu.Lock()
	if !r.cipherOK {
		r.pending = true
		r.mu.Unlock()
		log.Debug("idr request deferred: cipher not ready")
		return
	}
	r.mu.Unlock()

	if !r.limiter.Allow() {
		log.Debug("idr request suppressed by cooldown")
		return
	}
	r.sendUnconditional()
}

// sendUnconditional sends one IDRREQUEST without consulting the cooldown
// limiter. The burst/steady cadence is its own, separately-paced source of
// IDR requests (§4.10, §5 task 8); only RequestNow — the caller-triggered
// request_keyframe() surface — is cooldown-limited.
func (r *Requester) sendUnconditional() {
	r.mu.Lock()
	r.lastSent = time.Now()
	r.mu.Unlock()
	r.send()
}

// Stop cancels any pending burst/steady timers. Safe to call multiple
// times or on a Requester that was never started.
func (r *Requester) Stop() {
	if r.burstTimer != nil {
		r.burstTimer.Stop()
	}
	if r.steadyTimer != nil {
		r.steadyTimer.Stop()
	}
}
