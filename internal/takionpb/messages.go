package takionpb

import "google.golang.org/protobuf/encoding/protowire"

// MessageType is the TakionMessage.type discriminant the session dispatches
// incoming protobuf-carrying DATA packets on (§4.10).
type MessageType uint32

const (
	TypeBig                   MessageType = 1
	TypeBang                  MessageType = 2
	TypeStreamInfo            MessageType = 3
	TypeStreamInfoAck         MessageType = 4
	TypeHeartbeat             MessageType = 5
	TypeDisconnect            MessageType = 6
	TypeIDRRequest            MessageType = 7
	TypeCorruptFrame          MessageType = 8
	TypeControllerConnection MessageType = 9
)

// ControllerType selects the feedback payload shape negotiated via
// CONTROLLERCONNECTION (§6).
type ControllerType int32

const (
	DualShock4 ControllerType = 0
	DualSense  ControllerType = 1
)

// Big is the BIG handshake message (§4.10 step 3, §6).
type Big struct {
	ClientVersion int32
	SessionKey    string
	LaunchSpec    string
	EncryptedKey  []byte
	ECDHPub       []byte
	ECDHSig       []byte
}

func (m Big) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.ClientVersion)))
	b = appendStringField(b, 2, m.SessionKey)
	b = appendStringField(b, 3, m.LaunchSpec)
	b = appendBytesField(b, 4, m.EncryptedKey)
	b = appendBytesField(b, 5, m.ECDHPub)
	b = appendBytesField(b, 6, m.ECDHSig)
	return b
}

func UnmarshalBig(b []byte) (*Big, error) {
	m := &Big{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			m.ClientVersion = int32(v)
			return n, true
		case 2:
			v, n := consumeBytesField(data)
			m.SessionKey = string(v)
			return n, true
		case 3:
			v, n := consumeBytesField(data)
			m.LaunchSpec = string(v)
			return n, true
		case 4:
			v, n := consumeBytesField(data)
			m.EncryptedKey = v
			return n, true
		case 5:
			v, n := consumeBytesField(data)
			m.ECDHPub = v
			return n, true
		case 6:
			v, n := consumeBytesField(data)
			m.ECDHSig = v
			return n, true
		}
		return 0, false
	})
	return m, err
}

// Bang is the BANG handshake message (§4.10 step 4, §6).
type Bang struct {
	ServerVersion   int32
	VersionAccepted bool
	ECDHPub         []byte
	ECDHSig         []byte
}

func (m Bang) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.ServerVersion)))
	b = appendBool(b, 2, m.VersionAccepted)
	b = appendBytesField(b, 3, m.ECDHPub)
	b = appendBytesField(b, 4, m.ECDHSig)
	return b
}

func UnmarshalBang(b []byte) (*Bang, error) {
	m := &Bang{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			m.ServerVersion = int32(v)
			return n, true
		case 2:
			v, n := consumeVarintField(data)
			m.VersionAccepted = v != 0
			return n, true
		case 3:
			v, n := consumeBytesField(data)
			m.ECDHPub = v
			return n, true
		case 4:
			v, n := consumeBytesField(data)
			m.ECDHSig = v
			return n, true
		}
		return 0, false
	})
	return m, err
}

// Resolution is one STREAMINFO profile entry (§3 ProfileSet, §6).
type Resolution struct {
	Width       int32
	Height      int32
	VideoHeader []byte
}

func (r Resolution) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(r.Width)))
	b = appendVarint(b, 2, uint64(uint32(r.Height)))
	b = appendBytesField(b, 3, r.VideoHeader)
	return b
}

func unmarshalResolution(b []byte) (Resolution, error) {
	var r Resolution
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			r.Width = int32(v)
			return n, true
		case 2:
			v, n := consumeVarintField(data)
			r.Height = int32(v)
			return n, true
		case 3:
			v, n := consumeBytesField(data)
			r.VideoHeader = v
			return n, true
		}
		return 0, false
	})
	return r, err
}

// StreamInfo is the STREAMINFO message (§6): one or more video profiles
// plus a shared audio header.
type StreamInfo struct {
	Resolution  []Resolution
	AudioHeader []byte
}

func (m StreamInfo) Marshal() []byte {
	var b []byte
	for _, r := range m.Resolution {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.marshal())
	}
	b = appendBytesField(b, 2, m.AudioHeader)
	return b
}

func UnmarshalStreamInfo(b []byte) (*StreamInfo, error) {
	m := &StreamInfo{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, true
			}
			r, rerr := unmarshalResolution(v)
			if rerr == nil {
				m.Resolution = append(m.Resolution, r)
			}
			return n, true
		case 2:
			v, n := consumeBytesField(data)
			m.AudioHeader = v
			return n, true
		}
		return 0, false
	})
	return m, err
}

// StreamInfoAck, Heartbeat, and IDRRequest carry no fields (§6).
type StreamInfoAck struct{}
type Heartbeat struct{}
type IDRRequest struct{}

func (StreamInfoAck) Marshal() []byte { return nil }
func (Heartbeat) Marshal() []byte     { return nil }
func (IDRRequest) Marshal() []byte    { return nil }

func UnmarshalStreamInfoAck(b []byte) (*StreamInfoAck, error) { return &StreamInfoAck{}, nil }
func UnmarshalHeartbeat(b []byte) (*Heartbeat, error)         { return &Heartbeat{}, nil }
func UnmarshalIDRRequest(b []byte) (*IDRRequest, error)       { return &IDRRequest{}, nil }

// Disconnect carries a human-readable reason (§6).
type Disconnect struct {
	Reason string
}

func (m Disconnect) Marshal() []byte {
	return appendStringField(nil, 1, m.Reason)
}

func UnmarshalDisconnect(b []byte) (*Disconnect, error) {
	m := &Disconnect{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		if num == 1 {
			v, n := consumeBytesField(data)
			m.Reason = string(v)
			return n, true
		}
		return 0, false
	})
	return m, err
}

// CorruptFrame reports a dropped/frozen frame range. A range with
// Start > End is normalized by swapping before it is ever marshaled.
type CorruptFrame struct {
	Start int32
	End   int32
}

func (m CorruptFrame) Marshal() []byte {
	if m.Start > m.End {
		m.Start, m.End = m.End, m.Start
	}
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.Start)))
	b = appendVarint(b, 2, uint64(uint32(m.End)))
	return b
}

func UnmarshalCorruptFrame(b []byte) (*CorruptFrame, error) {
	m := &CorruptFrame{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			m.Start = int32(v)
			return n, true
		case 2:
			v, n := consumeVarintField(data)
			m.End = int32(v)
			return n, true
		}
		return 0, false
	})
	return m, err
}

// ControllerConnection negotiates the controller feedback shape (§6).
type ControllerConnection struct {
	Connected      bool
	ControllerType ControllerType
}

func (m ControllerConnection) Marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.Connected)
	b = appendVarint(b, 2, uint64(uint32(m.ControllerType)))
	return b
}

func UnmarshalControllerConnection(b []byte) (*ControllerConnection, error) {
	m := &ControllerConnection{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			m.Connected = v != 0
			return n, true
		case 2:
			v, n := consumeVarintField(data)
			m.ControllerType = ControllerType(v)
			return n, true
		}
		return 0, false
	})
	return m, err
}
