package wire

import (
	"encoding/binary"
	"errors"
)

const congestionPacketSize = 15

// ErrShortCongestion is returned when a buffer is too small to hold a
// congestion report.
var ErrShortCongestion = errors.New("wire: congestion packet shorter than 15 bytes")

// BuildCongestion builds the 15-byte congestion report described in §4.7:
// type=0x05, word_0=0, packets_received, packets_lost, a GMAC computed
// with the tag field zeroed, and the current key_pos echoed for the
// peer's authentication check. Congestion reports are not themselves
// encrypted payload carriers, so the cipher's key_pos is not advanced.
func BuildCongestion(received, lost uint16, sc StreamCipher) []byte {
	keyPos := sc.KeyPos()

	buf := make([]byte, congestionPacketSize)
	buf[0] = 0x05
	binary.BigEndian.PutUint16(buf[1:3], 0)
	binary.BigEndian.PutUint16(buf[3:5], received)
	binary.BigEndian.PutUint16(buf[5:7], lost)
	// buf[7:11] (gmac) stays zero for the tag computation below.
	binary.BigEndian.PutUint32(buf[11:15], uint32(keyPos))

	tag := sc.GMACAt(buf, keyPos)
	copy(buf[7:11], tag[:])
	return buf
}

// CongestionReport is the parsed result of ParseCongestion.
type CongestionReport struct {
	PacketsReceived uint16
	PacketsLost     uint16
	GMAC            [4]byte
	KeyPos          uint32
}

func ParseCongestion(buf []byte) (*CongestionReport, error) {
	if len(buf) < congestionPacketSize {
		return nil, ErrShortCongestion
	}
	r := &CongestionReport{
		PacketsReceived: binary.BigEndian.Uint16(buf[3:5]),
		PacketsLost:     binary.BigEndian.Uint16(buf[5:7]),
		KeyPos:          binary.BigEndian.Uint32(buf[11:15]),
	}
	copy(r.GMAC[:], buf[7:11])
	return r, nil
}

// ZeroedCongestionForGMAC returns a copy of buf with the gmac field
// (bytes 7..11) cleared, for recomputing/verifying the tag.
func ZeroedCongestionForGMAC(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	for i := 7; i < 11 && i < len(out); i++ {
		out[i] = 0
	}
	return out
}
