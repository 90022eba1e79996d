// Package backoff provides the jittered resend scheduling used by the
// Takion handshake (INIT retransmission, BIG retries) and by the
// emergency-recovery supervisor's reconnect attempts.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Schedule describes a bounded retry cadence: start at Initial, multiply by
// Factor each attempt, cap at Max, and randomize by ±JitterFrac so that a
// console and host that both restart at once don't resend in lockstep.
type Schedule struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	JitterFrac  float64
	MaxAttempts int // 0 means unbounded
}

// Takion handshake resend cadences from the protocol spec: INIT resends
// every second for up to 10s; BIG retries up to 5 times at a 1s interval.
var (
	InitResend = Schedule{Initial: time.Second, Max: time.Second, Factor: 1, JitterFrac: 0.1, MaxAttempts: 10}
	BigRetry   = Schedule{Initial: time.Second, Max: time.Second, Factor: 1, JitterFrac: 0.1, MaxAttempts: 5}
)

// Next computes the delay before the given attempt (0-indexed) and whether
// the schedule permits another attempt at all.
func (s Schedule) Next(attempt int) (delay time.Duration, ok bool) {
	if s.MaxAttempts > 0 && attempt >= s.MaxAttempts {
		return 0, false
	}
	factor := s.Factor
	if factor <= 0 {
		factor = 1
	}
	d := float64(s.Initial)
	for i := 0; i < attempt; i++ {
		d *= factor
	}
	delay = time.Duration(d)
	if s.Max > 0 && delay > s.Max {
		delay = s.Max
	}
	return applyJitter(delay, s.JitterFrac), true
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
