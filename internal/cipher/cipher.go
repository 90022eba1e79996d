// Package cipher implements the Takion stream cipher: an AES-keyed
// keystream addressed by a monotonic key_pos byte offset, plus a truncated
// GMAC used to authenticate every packet header. The AES-GCM and ECDH
// primitives themselves are assumed available per the engine's scope; this
// package is the accounting and framing layer on top of them.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrGMACMismatch is returned by Verify when the computed tag does not
// match the tag carried in a received packet. Callers drop the packet and
// count the failure; it is never fatal to the session (§4.1, §7).
var ErrGMACMismatch = errors.New("cipher: gmac mismatch")

const (
	handshakeKeySize = 16
	ecdhSecretSize   = 32
	gmacSize         = 4
)

// StreamCipher is keyed by (handshake_key, ecdh_secret) derived during
// BIG/BANG. It tracks a monotonically increasing key_pos: senders advance
// it only after a packet has been queued to the socket; receivers treat it
// as read-only, taking the offset from the packet header (§4.1).
type StreamCipher struct {
	block  cipher.Block
	gcm    cipher.AEAD
	ivSeed [16]byte

	keyPos atomic.Uint64
}

// New derives a StreamCipher from the 16-byte handshake key and the 32-byte
// ECDH shared secret negotiated during the handshake.
func New(handshakeKey, ecdhSecret []byte) (*StreamCipher, error) {
	if len(handshakeKey) != handshakeKeySize {
		return nil, fmt.Errorf("cipher: handshake key must be %d bytes, got %d", handshakeKeySize, len(handshakeKey))
	}
	if len(ecdhSecret) != ecdhSecretSize {
		return nil, fmt.Errorf("cipher: ecdh secret must be %d bytes, got %d", ecdhSecretSize, len(ecdhSecret))
	}

	block, err := aes.NewCipher(ecdhSecret)
	if err != nil {
		return nil, fmt.Errorf("cipher: new AES block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: new GCM: %w", err)
	}

	sc := &StreamCipher{block: block, gcm: gcm}
	copy(sc.ivSeed[:], handshakeKey)
	return sc, nil
}

// KeyPos returns the current keystream offset.
func (c *StreamCipher) KeyPos() uint64 {
	return c.keyPos.Load()
}

// Advance atomically increases key_pos by n. Only the send path calls this,
// and only after the packet carrying the prior key_pos value has been
// queued to the socket (§4.1 invariant).
func (c *StreamCipher) Advance(n uint64) {
	c.keyPos.Add(n)
}

// Encrypt XORs plain against the keystream at the given key_pos. The
// caller supplies the offset explicitly; Encrypt does not itself advance
// key_pos (§4.1: "both pure wrt the cipher's running position").
func (c *StreamCipher) Encrypt(plain []byte, keyPos uint64) []byte {
	return c.xorAt(plain, keyPos)
}

// Decrypt is the inverse of Encrypt; the keystream is symmetric.
func (c *StreamCipher) Decrypt(ciphertext []byte, keyPos uint64) []byte {
	return c.xorAt(ciphertext, keyPos)
}

func (c *StreamCipher) xorAt(data []byte, keyPos uint64) []byte {
	out := make([]byte, len(data))
	ks := c.keystreamAt(keyPos, len(data))
	for i := range data {
		out[i] = data[i] ^ ks[i]
	}
	return out
}

// keystreamAt returns n keystream bytes starting at byte offset keyPos,
// generated by encrypting successive 16-byte counter blocks derived from
// ivSeed XORed with the block index.
func (c *StreamCipher) keystreamAt(keyPos uint64, n int) []byte {
	if n == 0 {
		return nil
	}
	blockIndex := keyPos / 16
	offsetInBlock := int(keyPos % 16)
	numBlocks := (offsetInBlock + n + 15) / 16

	stream := make([]byte, 0, numBlocks*16)
	var ctr, ks [16]byte
	for i := 0; i < numBlocks; i++ {
		ctr = c.ivSeed
		bi := blockIndex + uint64(i)
		binary.BigEndian.PutUint64(ctr[8:], binary.BigEndian.Uint64(ctr[8:])^bi)
		c.block.Encrypt(ks[:], ctr[:])
		stream = append(stream, ks[:]...)
	}
	return stream[offsetInBlock : offsetInBlock+n]
}

// GMACAt computes the 4-byte truncated authentication tag over buf (which
// the caller has already zeroed the gmac and key_pos fields of) at the
// given key_pos. It is a keyed tag, not an encryption: the packet payload
// continues to use Encrypt/Decrypt, while GMACAt only authenticates the
// header+chunk bytes.
func (c *StreamCipher) GMACAt(buf []byte, keyPos uint64) [gmacSize]byte {
	nonce := c.nonceAt(keyPos)
	tag := c.gcm.Seal(nil, nonce, nil, buf)
	var out [gmacSize]byte
	copy(out[:], tag[:gmacSize])
	return out
}

// VerifyGMAC recomputes the tag for buf at keyPos and compares it against
// want. A mismatch is a recoverable error: the packet is dropped and
// counted, never torn down (§4.1, §7).
func (c *StreamCipher) VerifyGMAC(buf []byte, keyPos uint64, want [gmacSize]byte) error {
	got := c.GMACAt(buf, keyPos)
	if got != want {
		return ErrGMACMismatch
	}
	return nil
}

func (c *StreamCipher) nonceAt(keyPos uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, c.ivSeed[:12])
	var kp [8]byte
	binary.BigEndian.PutUint64(kp[:], keyPos)
	for i := 0; i < 8; i++ {
		nonce[4+i] ^= kp[i]
	}
	return nonce
}
