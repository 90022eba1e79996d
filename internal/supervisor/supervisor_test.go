package supervisor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/health"
)

func testConfig() Config {
	return Config{
		DegradedHeavyThreshold:   3,
		ReconnectThreshold:       6,
		NoPacketTimeout:          2 * time.Second,
		RecoverySuccessThreshold: 3,
		RecoveryFrameAdvance:     10,
		RecoveryMinElapsed:       0,
	}
}

type callbackCounters struct {
	keyframes   atomic.Int64
	sustainedOn atomic.Int64
	sustainedOff atomic.Int64
	corrupt     atomic.Int64
	resets      atomic.Int64
	reconnects  atomic.Int64
}

func (c *callbackCounters) callbacks() Callbacks {
	return Callbacks{
		RequestKeyframe: func() { c.keyframes.Add(1) },
		SetSustained: func(on bool) {
			if on {
				c.sustainedOn.Add(1)
			} else {
				c.sustainedOff.Add(1)
			}
		},
		SendCorruptFrame: func(start, end uint16) { c.corrupt.Add(1) },
		ResetStreamState: func() { c.resets.Add(1) },
		ReconnectTakion:  func() error { c.reconnects.Add(1); return nil },
	}
}

func fail(now time.Time, idx uint16) frame.HealthEvent {
	return frame.HealthEvent{Timestamp: now, FrameIndex: idx, Status: frame.Dropped}
}

func ok(now time.Time, idx uint16) frame.HealthEvent {
	return frame.HealthEvent{Timestamp: now, FrameIndex: idx, Status: frame.Success}
}

func TestEscalatesThroughDegradedStates(t *testing.T) {
	c := &callbackCounters{}
	s := New(testConfig(), c.callbacks())
	now := time.Now()

	if s.State() != Healthy {
		t.Fatalf("expected initial Healthy, got %v", s.State())
	}

	s.Observe(fail(now, 1))
	if s.State() != Healthy {
		t.Fatalf("one failure should not escalate, got %v", s.State())
	}

	s.Observe(fail(now, 2))
	if s.State() != DegradedLight {
		t.Fatalf("expected DegradedLight after 2 failures, got %v", s.State())
	}
	if c.keyframes.Load() != 1 {
		t.Fatalf("expected keyframe request on entering DegradedLight, got %d", c.keyframes.Load())
	}
	if c.sustainedOn.Load() != 1 {
		t.Fatalf("expected sustained congestion enabled on entering DegradedLight, got %d", c.sustainedOn.Load())
	}

	s.Observe(fail(now, 3))
	if s.State() != DegradedHeavy {
		t.Fatalf("expected DegradedHeavy after 3 failures, got %v", s.State())
	}
	if c.corrupt.Load() != 1 {
		t.Fatalf("expected a corrupt-frame report on entering DegradedHeavy, got %d", c.corrupt.Load())
	}
	if c.keyframes.Load() != 2 {
		t.Fatalf("expected a second keyframe request on entering DegradedHeavy, got %d", c.keyframes.Load())
	}
}

func TestEscalatesToReconnectingAfterThreshold(t *testing.T) {
	c := &callbackCounters{}
	s := New(testConfig(), c.callbacks())
	now := time.Now()

	for i := uint16(1); i <= 6; i++ {
		s.Observe(fail(now, i))
	}

	// give the async reconnect goroutine a moment to run
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.reconnects.Load() > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if c.resets.Load() != 1 {
		t.Fatalf("expected ResetStreamState called once, got %d", c.resets.Load())
	}
	if c.reconnects.Load() != 1 {
		t.Fatalf("expected ReconnectTakion called once, got %d", c.reconnects.Load())
	}

	// reconnect succeeds (err == nil), should settle back to Healthy.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Healthy {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if s.State() != Healthy {
		t.Fatalf("expected recovery back to Healthy after successful reconnect, got %v", s.State())
	}
}

func TestHealthStartsHealthyAndTracksReconnectOutcome(t *testing.T) {
	c := &callbackCounters{}
	s := New(testConfig(), c.callbacks())

	if got := s.Health().Overall(); got != health.Healthy {
		t.Fatalf("initial overall health = %v, want Healthy", got)
	}

	now := time.Now()
	for i := uint16(1); i <= 6; i++ {
		s.Observe(fail(now, i))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Healthy {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if s.State() != Healthy {
		t.Fatalf("expected recovery back to Healthy after successful reconnect, got %v", s.State())
	}

	socket, ok := s.Health().Get("socket")
	if !ok || socket.Status != health.Healthy {
		t.Fatalf("socket health = %+v, want Healthy", socket)
	}
	cipherCheck, ok := s.Health().Get("cipher")
	if !ok || cipherCheck.Status != health.Healthy {
		t.Fatalf("cipher health = %+v, want Healthy", cipherCheck)
	}
}

func TestHealthReflectsFailedReconnect(t *testing.T) {
	s := New(testConfig(), Callbacks{
		ResetStreamState: func() {},
		ReconnectTakion:  func() error { return errors.New("connection refused") },
	})

	now := time.Now()
	for i := uint16(1); i <= 6; i++ {
		s.Observe(fail(now, i))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if socket, ok := s.Health().Get("socket"); ok && socket.Status == health.Unhealthy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	socket, ok := s.Health().Get("socket")
	if !ok || socket.Status != health.Unhealthy {
		t.Fatalf("socket health = %+v, want Unhealthy after failed reconnect", socket)
	}
	if s.Health().Overall() != health.Unhealthy {
		t.Fatalf("overall health = %v, want Unhealthy", s.Health().Overall())
	}
}

func TestReconnectFailureStaysReconnecting(t *testing.T) {
	var resets atomic.Int64
	var mu sync.Mutex
	var gotFrom, gotTo State
	var stateChanges int

	s := New(testConfig(), Callbacks{
		ResetStreamState: func() { resets.Add(1) },
		ReconnectTakion:  func() error { return errors.New("connection refused") },
		OnStateChange: func(from, to State) {
			mu.Lock()
			gotFrom, gotTo = from, to
			stateChanges++
			mu.Unlock()
		},
	})
	now := time.Now()
	for i := uint16(1); i <= 6; i++ {
		s.Observe(fail(now, i))
	}

	time.Sleep(50 * time.Millisecond)
	if s.State() != Reconnecting {
		t.Fatalf("expected to remain Reconnecting after failed reconnect, got %v", s.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if stateChanges == 0 {
		t.Fatal("expected at least one OnStateChange callback for entering Reconnecting")
	}
	if gotTo != Reconnecting {
		t.Fatalf("expected last observed transition to Reconnecting, got %v -> %v", gotFrom, gotTo)
	}
}

func TestRecoversToHealthyAfterSustainedSuccess(t *testing.T) {
	c := &callbackCounters{}
	s := New(testConfig(), c.callbacks())
	now := time.Now()

	s.Observe(fail(now, 1))
	s.Observe(fail(now, 2))
	if s.State() != DegradedLight {
		t.Fatalf("expected DegradedLight, got %v", s.State())
	}

	// Not enough frame advance yet: recovery should not fire.
	s.Observe(ok(now, 3))
	s.Observe(ok(now, 4))
	s.Observe(ok(now, 5))
	if s.State() != DegradedLight {
		t.Fatalf("expected still DegradedLight before sufficient frame advance, got %v", s.State())
	}

	// Enough successes and enough frame-index advance past the fallback point (2).
	s.Observe(ok(now, 13))
	s.Observe(ok(now, 14))
	s.Observe(ok(now, 15))
	if s.State() != Healthy {
		t.Fatalf("expected recovery to Healthy, got %v", s.State())
	}
	if c.sustainedOff.Load() != 1 {
		t.Fatalf("expected sustained congestion disabled on recovery, got %d", c.sustainedOff.Load())
	}
}

func TestCheckStallSynthesizesFailureAfterSilence(t *testing.T) {
	c := &callbackCounters{}
	cfg := testConfig()
	cfg.NoPacketTimeout = 10 * time.Millisecond
	s := New(cfg, c.callbacks())

	start := time.Now()
	s.NotePacketReceived(start)

	s.CheckStall(start.Add(20 * time.Millisecond))
	s.CheckStall(start.Add(40 * time.Millisecond))
	if s.State() != DegradedLight {
		t.Fatalf("expected two synthesized stall failures to reach DegradedLight, got %v", s.State())
	}
}

func TestCheckStallNoopWhenPacketsFlowing(t *testing.T) {
	c := &callbackCounters{}
	cfg := testConfig()
	cfg.NoPacketTimeout = time.Hour
	s := New(cfg, c.callbacks())

	s.NotePacketReceived(time.Now())
	s.CheckStall(time.Now())
	if s.State() != Healthy {
		t.Fatalf("expected Healthy with packets flowing, got %v", s.State())
	}
}

func TestNilCallbacksDoNotPanic(t *testing.T) {
	s := New(testConfig(), Callbacks{})
	now := time.Now()
	for i := uint16(1); i <= 6; i++ {
		s.Observe(fail(now, i))
	}
	// A nil ReconnectTakion is treated as an immediate no-op success, same
	// as every other nil callback; nothing here should panic.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.State() == Reconnecting {
		time.Sleep(time.Millisecond)
	}
	if s.State() != Healthy {
		t.Fatalf("expected nil ReconnectTakion to resolve back to Healthy, got %v", s.State())
	}
}
