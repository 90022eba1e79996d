package cipher

import (
	"bytes"
	"testing"
)

func testCipher(t *testing.T) *StreamCipher {
	t.Helper()
	handshakeKey := bytes.Repeat([]byte{0xAB}, handshakeKeySize)
	ecdhSecret := bytes.Repeat([]byte{0x11}, ecdhSecretSize)
	sc, err := New(handshakeKey, ecdhSecret)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sc := testCipher(t)
	cases := []struct {
		msg    []byte
		keyPos uint64
	}{
		{[]byte("hello takion"), 0},
		{[]byte("a different message, longer than one block"), 16},
		{[]byte(""), 100},
		{bytes.Repeat([]byte{0x42}, 1000), 12345},
	}
	for _, c := range cases {
		ct := sc.Encrypt(c.msg, c.keyPos)
		pt := sc.Decrypt(ct, c.keyPos)
		if !bytes.Equal(pt, c.msg) {
			t.Fatalf("round trip mismatch at key_pos=%d: got %q want %q", c.keyPos, pt, c.msg)
		}
	}
}

func TestEncryptIsNotIdentity(t *testing.T) {
	sc := testCipher(t)
	msg := []byte("plaintext should not survive encryption")
	ct := sc.Encrypt(msg, 0)
	if bytes.Equal(ct, msg) {
		t.Fatal("ciphertext equals plaintext")
	}
}

func TestGMACVerifiesOwnTag(t *testing.T) {
	sc := testCipher(t)
	buf := []byte{0x02, 0, 0, 0, 0xAA, 0, 0, 0, 0, 0, 0, 0, 0}
	tag := sc.GMACAt(buf, 42)
	if err := sc.VerifyGMAC(buf, 42, tag); err != nil {
		t.Fatalf("VerifyGMAC of a correctly-computed tag failed: %v", err)
	}
}

func TestGMACDetectsTamperedBuffer(t *testing.T) {
	sc := testCipher(t)
	buf := []byte{0x02, 0, 0, 0, 0xAA, 0, 0, 0, 0, 0, 0, 0, 0}
	tag := sc.GMACAt(buf, 42)
	buf[4] ^= 0xFF
	if err := sc.VerifyGMAC(buf, 42, tag); err == nil {
		t.Fatal("expected GMAC mismatch on tampered buffer")
	}
}

func TestGMACDiffersByKeyPos(t *testing.T) {
	sc := testCipher(t)
	buf := []byte{0x02, 0, 0, 0, 0xAA, 0, 0, 0, 0, 0, 0, 0, 0}
	tag1 := sc.GMACAt(buf, 1)
	tag2 := sc.GMACAt(buf, 2)
	if tag1 == tag2 {
		t.Fatal("expected different tags for different key_pos")
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	sc := testCipher(t)
	if sc.KeyPos() != 0 {
		t.Fatalf("fresh cipher key_pos = %d, want 0", sc.KeyPos())
	}
	sc.Advance(16)
	sc.Advance(29)
	if sc.KeyPos() != 45 {
		t.Fatalf("KeyPos() = %d, want 45", sc.KeyPos())
	}
}

func TestNewRejectsWrongKeySizes(t *testing.T) {
	if _, err := New(make([]byte, 8), make([]byte, ecdhSecretSize)); err == nil {
		t.Fatal("expected error for short handshake key")
	}
	if _, err := New(make([]byte, handshakeKeySize), make([]byte, 16)); err == nil {
		t.Fatal("expected error for short ecdh secret")
	}
}
