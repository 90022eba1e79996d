package wire

import (
	"encoding/binary"
	"errors"
)

const feedbackHdrSize = 12

// ErrShortFeedback is returned when a buffer is too small to hold the
// fixed feedback header.
var ErrShortFeedback = errors.New("wire: feedback packet shorter than header")

// StreamCipher is the minimal surface wire needs from internal/cipher to
// build and parse encrypted feedback/congestion packets, kept narrow per
// the one-directional-interface guidance in spec §9.
type StreamCipher interface {
	Encrypt(plain []byte, keyPos uint64) []byte
	Decrypt(ciphertext []byte, keyPos uint64) []byte
	GMACAt(buf []byte, keyPos uint64) [4]byte
	KeyPos() uint64
	Advance(n uint64)
}

// BuildFeedback builds a feedback packet per §4.2/§6: a 12-byte header
// {type, seq_be, pad=0, key_pos_be, gmac_be} followed by the encrypted
// payload. GMAC is computed with the gmac field zeroed; the cipher
// advances by len(payload) after the packet is built.
func BuildFeedback(fbType uint8, sequence uint16, payload []byte, sc StreamCipher) []byte {
	keyPos := sc.KeyPos()
	encrypted := sc.Encrypt(payload, keyPos)

	buf := make([]byte, feedbackHdrSize+len(encrypted))
	buf[0] = fbType
	binary.BigEndian.PutUint16(buf[1:3], sequence)
	buf[3] = 0
	binary.BigEndian.PutUint32(buf[4:8], uint32(keyPos))
	// buf[8:12] (gmac) stays zero for the tag computation below.
	copy(buf[feedbackHdrSize:], encrypted)

	tag := sc.GMACAt(buf, keyPos)
	copy(buf[8:12], tag[:])

	sc.Advance(uint64(len(payload)))
	return buf
}

// FeedbackPacket is the parsed result of ParseFeedback.
type FeedbackPacket struct {
	Type     uint8
	Sequence uint16
	KeyPos   uint32
	GMAC     [4]byte
	Payload  []byte // decrypted
}

// ParseFeedback parses and decrypts a feedback packet built by
// BuildFeedback. It does not verify the GMAC; callers that need
// authentication call sc.GMACAt on the zeroed buffer themselves (matching
// how the envelope path verifies GMAC before acting on a packet).
func ParseFeedback(buf []byte, sc StreamCipher) (*FeedbackPacket, error) {
	if len(buf) < feedbackHdrSize {
		return nil, ErrShortFeedback
	}
	fp := &FeedbackPacket{
		Type:     buf[0],
		Sequence: binary.BigEndian.Uint16(buf[1:3]),
		KeyPos:   binary.BigEndian.Uint32(buf[4:8]),
	}
	copy(fp.GMAC[:], buf[8:12])
	fp.Payload = sc.Decrypt(buf[feedbackHdrSize:], uint64(fp.KeyPos))
	return fp, nil
}

// ZeroedForGMAC returns a copy of buf with the gmac field (bytes 8..12)
// cleared, for recomputing/verifying the tag.
func ZeroedForGMAC(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	for i := 8; i < 12 && i < len(out); i++ {
		out[i] = 0
	}
	return out
}
