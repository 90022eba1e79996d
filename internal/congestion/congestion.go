// Package congestion implements the 15 Hz congestion-report loop of
// §4.7: draining rolling received/lost counters from the AV pipelines
// and building a wire packet every tick, with a sustained-congestion
// override the emergency-recovery supervisor can enable to signal the
// console to drop quality.
package congestion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/remoteplay/takion/internal/wire"
)

// Interval is the §4.7 send cadence (≈15 Hz).
const Interval = 66 * time.Millisecond

// sustainedReceived/sustainedLost are the fixed high-loss pair sent on
// every tick while sustained-congestion mode is enabled (§4.7).
const (
	sustainedReceived uint16 = 5
	sustainedLost     uint16 = 5
)

// Counters is the rolling received/lost sample source the controller
// drains once per tick. Pipelines add to these as packets arrive or are
// detected missing; the controller resets them after each read.
type Counters struct {
	Received atomic.Uint32
	Lost     atomic.Uint32
}

// Add records n additional received packets.
func (c *Counters) Add(n uint32) { c.Received.Add(n) }

// AddLost records n additional lost packets (e.g. a reorder/assembler
// gap detected downstream).
func (c *Counters) AddLost(n uint32) { c.Lost.Add(n) }

// drain atomically reads and resets both counters, saturating at
// uint16's range since the wire format is a 16-bit field.
func (c *Counters) drain() (received, lost uint16) {
	r := c.Received.Swap(0)
	l := c.Lost.Swap(0)
	return saturate16(r), saturate16(l)
}

func saturate16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// Controller is the CongestionController of §4.7.
type Controller struct {
	mu        sync.Mutex
	cipher    wire.StreamCipher
	sendRaw   func([]byte)
	sustained bool

	Video, Audio Counters
}

// NewController builds a Controller. sendRaw hands a built packet to
// the session's single send-lock.
func NewController(cipher wire.StreamCipher, sendRaw func([]byte)) *Controller {
	return &Controller{cipher: cipher, sendRaw: sendRaw}
}

// SetSustained enables or disables sustained-congestion override mode
// (§4.7); the emergency-recovery supervisor flips this when it wants the
// console to downshift bitrate.
func (c *Controller) SetSustained(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sustained = on
}

// Sustained reports whether override mode is currently active.
func (c *Controller) Sustained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sustained
}

// Tick drains the rolling counters (or substitutes the fixed
// sustained-congestion pair) and sends one congestion report.
func (c *Controller) Tick() {
	c.mu.Lock()
	sustained := c.sustained
	c.mu.Unlock()

	var received, lost uint16
	if sustained {
		received, lost = sustainedReceived, sustainedLost
	} else {
		vr, vl := c.Video.drain()
		ar, al := c.Audio.drain()
		received = saturate16(uint32(vr) + uint32(ar))
		lost = saturate16(uint32(vl) + uint32(al))
	}

	buf := wire.BuildCongestion(received, lost, c.cipher)
	c.sendRaw(buf)
}
