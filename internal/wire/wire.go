// Package wire implements the bit-exact framing of the Takion packet
// envelope, control/data chunks, feedback packets, and congestion reports
// described in spec §3, §4.2, and §6. It knows nothing about sessions or
// pipelines; it only builds and parses byte slices.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType occupies the low nibble of envelope byte 0 (§3).
type PacketType uint8

const (
	TypeControl       PacketType = 0
	TypeFeedbackEvent PacketType = 1
	TypeVideo         PacketType = 2
	TypeAudio         PacketType = 3
	TypeCongestion    PacketType = 5
	TypeFeedbackState PacketType = 6
)

// ChunkType is the control-chunk subtype carried in byte 0 of a CONTROL
// packet's chunk header.
type ChunkType uint8

const (
	ChunkInit      ChunkType = 1
	ChunkInitAck   ChunkType = 2
	ChunkCookie    ChunkType = 10
	ChunkCookieAck ChunkType = 11
	ChunkData      ChunkType = 3
	ChunkDataAck   ChunkType = 4
)

const (
	envelopeSize = 13
	chunkHdrSize = 4
	dataHdrSize  = 9 // tsn(4) + channel(2) + 3 reserved bytes
)

// ErrShortPacket is returned by Parse when the buffer is too small to hold
// even the fixed envelope.
var ErrShortPacket = errors.New("wire: packet shorter than envelope")

// ErrShortChunk is returned when a CONTROL packet's declared chunk length
// doesn't fit in the remaining buffer.
var ErrShortChunk = errors.New("wire: chunk length exceeds buffer")

// ErrUnknownChunkType is returned by Parse for a CONTROL chunk type this
// package doesn't recognize.
var ErrUnknownChunkType = errors.New("wire: unknown chunk type")

// Envelope is the fixed 13-byte header on every Takion packet.
type Envelope struct {
	Type      PacketType
	TagRemote uint32
	GMAC      uint32
	KeyPos    uint32
}

func (e Envelope) encode() []byte {
	buf := make([]byte, envelopeSize)
	buf[0] = byte(e.Type)
	binary.BigEndian.PutUint32(buf[1:5], e.TagRemote)
	binary.BigEndian.PutUint32(buf[5:9], e.GMAC)
	binary.BigEndian.PutUint32(buf[9:13], e.KeyPos)
	return buf
}

func decodeEnvelope(buf []byte) Envelope {
	return Envelope{
		Type:      PacketType(buf[0] & 0x0F),
		TagRemote: binary.BigEndian.Uint32(buf[1:5]),
		GMAC:      binary.BigEndian.Uint32(buf[5:9]),
		KeyPos:    binary.BigEndian.Uint32(buf[9:13]),
	}
}

// zeroMACFields clears the gmac and key_pos fields (envelope bytes 5..12)
// of buf in place, matching the "gmac+key_pos zeroed" convention used for
// GMAC computation across control, data, feedback, and congestion packets.
func zeroMACFields(buf []byte) {
	for i := 5; i < 13 && i < len(buf); i++ {
		buf[i] = 0
	}
}

// GMACInput returns the portion of buf (envelope + chunk) that gets its
// MAC/key_pos fields zeroed before computing or verifying GMAC.
func GMACInput(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	zeroMACFields(out)
	return out
}

// Packet is the parsed result of Parse: the envelope plus the
// chunk-type-specific fields relevant to that packet.
type Packet struct {
	Envelope Envelope

	ChunkType ChunkType
	Flag      uint8

	// INIT / INIT_ACK
	TagLocal uint32
	ARwnd    uint32
	OutStrms uint16
	InStrms  uint16
	InitTSN  uint32
	Cookie   []byte

	// DATA / DATA_ACK
	TSN           uint32
	Channel       uint16
	Data          []byte
	AckTSN        uint32
	GapAckBlocks  []byte
	DupTSNs       []uint32
}

// BuildInit builds a CONTROL/INIT chunk per §4.2: payload
// (tag_local, a_rwnd=0x19000, out_streams=100, in_streams=100, init_tsn).
func BuildInit(tagLocal, initTSN uint32) []byte {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[0:4], tagLocal)
	binary.BigEndian.PutUint32(payload[4:8], 0x19000)
	binary.BigEndian.PutUint16(payload[8:10], 100)
	binary.BigEndian.PutUint16(payload[10:12], 100)
	binary.BigEndian.PutUint32(payload[12:16], initTSN)
	return buildControl(ChunkInit, 0, payload)
}

// BuildCookie builds a CONTROL/COOKIE chunk with tag_remote pre-written
// into the envelope header; per §4.2 this stage is unencrypted.
func BuildCookie(tagLocal, tagRemote uint32, cookieData []byte) []byte {
	buf := buildControl(ChunkCookie, 0, cookieData)
	binary.BigEndian.PutUint32(buf[1:5], tagRemote)
	return buf
}

// BuildDataAck builds a CONTROL/DATA_ACK chunk with (ack_tsn, a_rwnd, 0, 0).
func BuildDataAck(ackTSN uint32) []byte {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[0:4], ackTSN)
	binary.BigEndian.PutUint32(payload[4:8], 0x19000)
	return buildControl(ChunkDataAck, 0, payload)
}

func buildControl(ct ChunkType, flag uint8, payload []byte) []byte {
	chunkLen := chunkHdrSize + len(payload)
	buf := make([]byte, envelopeSize+chunkLen)

	env := Envelope{Type: TypeControl}
	copy(buf[:envelopeSize], env.encode())

	buf[envelopeSize+0] = byte(ct)
	buf[envelopeSize+1] = flag
	binary.BigEndian.PutUint16(buf[envelopeSize+2:envelopeSize+4], uint16(chunkLen))
	copy(buf[envelopeSize+chunkHdrSize:], payload)
	return buf
}

// BuildData builds a CONTROL/DATA chunk: (tsn, channel, 3 reserved bytes)
// followed by the already-encrypted payload. The caller fills in
// TagRemote/GMAC/KeyPos via SetHeader before sending (the send path does
// this once, under the single send-lock, so the header matches the cipher
// state that produced the ciphertext).
func BuildData(tsn uint32, channel uint16, flag uint8, payload []byte) []byte {
	dataPayload := make([]byte, dataHdrSize+len(payload))
	binary.BigEndian.PutUint32(dataPayload[0:4], tsn)
	binary.BigEndian.PutUint16(dataPayload[4:6], channel)
	copy(dataPayload[dataHdrSize:], payload)
	return buildControl(ChunkData, flag, dataPayload)
}

// SetHeader stamps TagRemote and KeyPos into a built packet's envelope
// (bytes 1..4 and 9..12) and writes the given gmac into bytes 5..8 — the
// three fields every outgoing encrypted packet must carry (§4.10).
func SetHeader(buf []byte, tagRemote uint32, gmac [4]byte, keyPos uint32) {
	binary.BigEndian.PutUint32(buf[1:5], tagRemote)
	copy(buf[5:9], gmac[:])
	binary.BigEndian.PutUint32(buf[9:13], keyPos)
}

// Parse extracts the envelope and, for CONTROL packets, the chunk type and
// chunk-type-specific fields, per §4.2.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < envelopeSize {
		return nil, ErrShortPacket
	}

	p := &Packet{Envelope: decodeEnvelope(buf)}

	switch p.Envelope.Type {
	case TypeControl:
		return parseControl(buf, p)
	case TypeVideo, TypeAudio:
		p.Data = buf[envelopeSize:]
		return p, nil
	default:
		p.Data = buf[envelopeSize:]
		return p, nil
	}
}

func parseControl(buf []byte, p *Packet) (*Packet, error) {
	rest := buf[envelopeSize:]
	if len(rest) < chunkHdrSize {
		return nil, ErrShortChunk
	}
	p.ChunkType = ChunkType(rest[0])
	p.Flag = rest[1]
	length := binary.BigEndian.Uint16(rest[2:4])
	if int(length) > len(rest) {
		return nil, ErrShortChunk
	}
	payload := rest[chunkHdrSize:length]

	switch p.ChunkType {
	case ChunkInitAck:
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: short INIT_ACK payload", ErrShortChunk)
		}
		p.TagLocal = binary.BigEndian.Uint32(payload[0:4])
		if len(payload) >= 8 {
			p.InitTSN = binary.BigEndian.Uint32(payload[4:8])
		}
		if len(payload) > 8 {
			p.Cookie = payload[8:]
		}
	case ChunkCookieAck:
		p.Cookie = payload
	case ChunkDataAck:
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: short DATA_ACK payload", ErrShortChunk)
		}
		p.AckTSN = binary.BigEndian.Uint32(payload[0:4])
		if len(payload) > 4 {
			p.GapAckBlocks = payload[4:]
		}
	case ChunkData:
		if len(payload) < dataHdrSize {
			return nil, fmt.Errorf("%w: short DATA payload", ErrShortChunk)
		}
		p.TSN = binary.BigEndian.Uint32(payload[0:4])
		p.Channel = binary.BigEndian.Uint16(payload[4:6])
		p.Data = payload[dataHdrSize:]
	case ChunkInit:
		if len(payload) < 16 {
			return nil, fmt.Errorf("%w: short INIT payload", ErrShortChunk)
		}
		p.TagLocal = binary.BigEndian.Uint32(payload[0:4])
		p.ARwnd = binary.BigEndian.Uint32(payload[4:8])
		p.OutStrms = binary.BigEndian.Uint16(payload[8:10])
		p.InStrms = binary.BigEndian.Uint16(payload[10:12])
		p.InitTSN = binary.BigEndian.Uint32(payload[12:16])
	case ChunkCookie:
		p.Data = payload
	default:
		return nil, ErrUnknownChunkType
	}
	return p, nil
}
