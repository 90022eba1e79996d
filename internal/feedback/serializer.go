package feedback

import "encoding/binary"

func dpadByte(d DPad) byte { return byte(d) }

// ps4Serializer produces the DualShock4 feedback payload shape: sticks,
// triggers, dpad, and a 2-byte button mask — no adaptive-trigger fields.
type ps4Serializer struct{}

func (ps4Serializer) State(s ControllerState) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint16(buf[0:2], uint16(s.LeftX))
	binary.BigEndian.PutUint16(buf[2:4], uint16(s.LeftY))
	binary.BigEndian.PutUint16(buf[4:6], uint16(s.RightX))
	binary.BigEndian.PutUint16(buf[6:8], uint16(s.RightY))
	buf[8] = s.L2
	buf[9] = s.R2
	buf[10] = dpadByte(s.DPad)
	binary.BigEndian.PutUint16(buf[11:13], uint16(s.Buttons))
	return buf
}

func (p ps4Serializer) ButtonEvent(s ControllerState, button Button, isPress bool) []byte {
	base := p.State(s)
	flag := byte(0)
	if isPress {
		flag = 1
	}
	return append(base, flag)
}

// ps5Serializer produces the DualSense feedback payload shape: the same
// stick/trigger/dpad/button snapshot, widened to a 4-byte button mask to
// carry the touchpad/PS-button bits DualSense exposes. There is no
// reserved byte; ButtonEvent appends a single press/release flag byte.
type ps5Serializer struct{}

func (ps5Serializer) State(s ControllerState) []byte {
	buf := make([]byte, 15)
	binary.BigEndian.PutUint16(buf[0:2], uint16(s.LeftX))
	binary.BigEndian.PutUint16(buf[2:4], uint16(s.LeftY))
	binary.BigEndian.PutUint16(buf[4:6], uint16(s.RightX))
	binary.BigEndian.PutUint16(buf[6:8], uint16(s.RightY))
	buf[8] = s.L2
	buf[9] = s.R2
	buf[10] = dpadByte(s.DPad)
	binary.BigEndian.PutUint32(buf[11:15], uint32(s.Buttons))
	return buf
}

func (p ps5Serializer) ButtonEvent(s ControllerState, button Button, isPress bool) []byte {
	base := make([]byte, 16)
	copy(base, p.State(s))
	flag := byte(0)
	if isPress {
		flag = 1
	}
	base[15] = flag
	return base
}
