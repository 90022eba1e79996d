package wire

import "encoding/binary"

// Audio/video codec bytes carried in the AV header (§4.2's "codec byte
// determines video codec... vs audio codec").
const (
	CodecH264 uint8 = 0x00
	CodecH265 uint8 = 0x01
	CodecAV1  uint8 = 0x02

	CodecOpusLow  uint8 = 0x01
	CodecOpusHigh uint8 = 0x02
	CodecAACLow   uint8 = 0x03
	CodecAACHigh  uint8 = 0x04
)

// IsOpusCodec reports whether the given audio codec byte is an Opus
// variant (§4.2, §4.5).
func IsOpusCodec(codec uint8) bool {
	return codec == CodecOpusLow || codec == CodecOpusHigh
}

// IsAACCodec reports whether the given audio codec byte is an AAC variant.
func IsAACCodec(codec uint8) bool {
	return codec == CodecAACLow || codec == CodecAACHigh
}

const avHeaderSize = 12

// AVHeader is the header at the start of a VIDEO/AUDIO packet's decrypted
// payload, carrying the per-unit bookkeeping described in §3 AVPacket.
type AVHeader struct {
	FrameIndex          uint16
	UnitIndex           uint16
	UnitsInFrameSrc     uint16
	UnitsInFrameTotal   uint16
	Codec               uint8
	IsLast              bool
	IsLastSrc           bool
	DataType            uint8
	AdaptiveStreamIndex uint8
}

// ParseAV parses the AV header from the decrypted payload that follows the
// 13-byte envelope, and returns the header together with the unit data
// after it.
func ParseAV(data []byte) (AVHeader, []byte, error) {
	if len(data) < avHeaderSize {
		return AVHeader{}, nil, ErrShortPacket
	}
	flags := data[9]
	h := AVHeader{
		FrameIndex:          binary.BigEndian.Uint16(data[0:2]),
		UnitIndex:           binary.BigEndian.Uint16(data[2:4]),
		UnitsInFrameSrc:     binary.BigEndian.Uint16(data[4:6]),
		UnitsInFrameTotal:   binary.BigEndian.Uint16(data[6:8]),
		Codec:               data[8],
		IsLast:              flags&0x01 != 0,
		IsLastSrc:           flags&0x02 != 0,
		DataType:            data[10],
		AdaptiveStreamIndex: data[11],
	}
	return h, data[avHeaderSize:], nil
}

// BuildAV encodes an AV header followed by unitData, for tests and for a
// loopback/reference sender.
func BuildAV(h AVHeader, unitData []byte) []byte {
	buf := make([]byte, avHeaderSize+len(unitData))
	binary.BigEndian.PutUint16(buf[0:2], h.FrameIndex)
	binary.BigEndian.PutUint16(buf[2:4], h.UnitIndex)
	binary.BigEndian.PutUint16(buf[4:6], h.UnitsInFrameSrc)
	binary.BigEndian.PutUint16(buf[6:8], h.UnitsInFrameTotal)
	buf[8] = h.Codec
	var flags uint8
	if h.IsLast {
		flags |= 0x01
	}
	if h.IsLastSrc {
		flags |= 0x02
	}
	buf[9] = flags
	buf[10] = h.DataType
	buf[11] = h.AdaptiveStreamIndex
	copy(buf[avHeaderSize:], unitData)
	return buf
}
