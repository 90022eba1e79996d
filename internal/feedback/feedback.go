// Package feedback implements the controller-telemetry half of §4.6: a
// periodic state sender with button-event coalescing, and the PS4/PS5
// payload serializers selected at session construction from the
// negotiated controller type.
package feedback

import (
	"sync"
	"time"

	"github.com/remoteplay/takion/internal/takionpb"
	"github.com/remoteplay/takion/internal/wire"
)

const (
	// StateInterval is the controller-state send cadence (§4.6, §5 task 6).
	StateInterval = 200 * time.Millisecond
	// CoalesceWindow is how recently any feedback packet must have been
	// sent for a periodic state tick to be skipped. Button events are
	// always sent immediately as their own packet.
	CoalesceWindow = 16 * time.Millisecond

	fbTypeState uint8 = 0x01
	fbTypeEvent uint8 = 0x02
)

// DPad is the 8-way hat switch plus centered/released state.
type DPad uint8

const (
	DPadNone DPad = iota
	DPadUp
	DPadUpRight
	DPadRight
	DPadDownRight
	DPadDown
	DPadDownLeft
	DPadLeft
	DPadUpLeft
)

// Button is a bitmask of the face/shoulder/stick/system buttons common to
// both DualShock4 and DualSense pads.
type Button uint32

const (
	ButtonCross Button = 1 << iota
	ButtonCircle
	ButtonSquare
	ButtonTriangle
	ButtonL1
	ButtonR1
	ButtonL2
	ButtonR2
	ButtonL3
	ButtonR3
	ButtonShare
	ButtonOptions
	ButtonPS
	ButtonTouchpad
)

// ControllerState is the stick/trigger/dpad/button snapshot the outer
// session reports via SessionControl.update_controller_state (§6).
type ControllerState struct {
	LeftX, LeftY   int16 // full int16 range, center at 0
	RightX, RightY int16
	L2, R2         uint8 // analog trigger pull, 0..255
	DPad           DPad
	Buttons        Button
}

// Serializer produces the host-specific feedback payload bytes for a
// controller state or event (§4.6: "payload layout is host-specific").
type Serializer interface {
	State(s ControllerState) []byte
	ButtonEvent(s ControllerState, pressed Button, isPress bool) []byte
}

// SerializerFor returns the PS4 or PS5 Serializer for ct.
func SerializerFor(ct takionpb.ControllerType) Serializer {
	if ct == takionpb.DualShock4 {
		return ps4Serializer{}
	}
	return ps5Serializer{}
}

// Sender is the FeedbackSender of §4.6: it owns the monotonic wrapping
// sequence number and the state/event coalescing window, and calls
// sendRaw to hand a built packet to the session's single send-lock.
type Sender struct {
	mu       sync.Mutex
	cipher   wire.StreamCipher
	ser      Serializer
	sendRaw  func([]byte)
	sequence uint16

	current    ControllerState
	lastSendAt time.Time
}

// NewSender builds a Sender. sendRaw is called synchronously from
// whichever goroutine calls Tick/ReportButton, under the same
// serialization discipline the rest of the session's send path uses.
func NewSender(cipher wire.StreamCipher, ser Serializer, sendRaw func([]byte)) *Sender {
	return &Sender{cipher: cipher, ser: ser, sendRaw: sendRaw}
}

// UpdateState replaces the latest known controller snapshot; the next
// Tick (or coalesced event) picks it up.
func (s *Sender) UpdateState(state ControllerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = state
}

// Tick is called on the 200ms cadence of §5 task 6. It sends the latest
// state unless a button event was sent within the last CoalesceWindow,
// in which case this tick is folded into that event's send.
func (s *Sender) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastSendAt.IsZero() && now.Sub(s.lastSendAt) < CoalesceWindow {
		return
	}
	s.sendLocked(fbTypeState, s.ser.State(s.current), now)
}

// ReportButton sends an event packet immediately for a button
// press/release transition (§4.6). Held under the same lock as Tick so
// a state tick landing within CoalesceWindow of this event is
// suppressed rather than double-sent.
func (s *Sender) ReportButton(button Button, isPress bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isPress {
		s.current.Buttons |= button
	} else {
		s.current.Buttons &^= button
	}
	s.sendLocked(fbTypeEvent, s.ser.ButtonEvent(s.current, button, isPress), now)
}

func (s *Sender) sendLocked(fbType uint8, payload []byte, now time.Time) {
	buf := wire.BuildFeedback(fbType, s.sequence, payload, s.cipher)
	s.sequence++
	s.lastSendAt = now
	s.sendRaw(buf)
}
