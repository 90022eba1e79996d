package session

import (
	"bytes"
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"testing"
)

func TestDeriveHandshakeKeyIsDeterministicAndKeyedByBothInputs(t *testing.T) {
	secret := []byte("a shared secret from registration")
	iv := []byte("0123456789abcdef")

	k1 := deriveHandshakeKey(secret, iv)
	k2 := deriveHandshakeKey(secret, iv)
	if k1 != k2 {
		t.Fatal("deriveHandshakeKey must be deterministic for the same inputs")
	}

	otherIV := []byte("fedcba9876543210")
	k3 := deriveHandshakeKey(secret, otherIV)
	if k1 == k3 {
		t.Fatal("deriveHandshakeKey must depend on session_iv, not just secret")
	}
}

func TestEncryptLaunchProofRoundTrips(t *testing.T) {
	secret := []byte("another shared secret")
	iv := []byte("0123456789abcdef")
	launch := LaunchOptions{Width: 1920, Height: 1080, FPS: 60, BitrateKbps: 15000, Codec: "h265", HDR: true}

	ct, err := encryptLaunchProof(secret, iv, launch)
	if err != nil {
		t.Fatalf("encryptLaunchProof: %v", err)
	}

	plain := decryptLaunchProofForTest(t, secret, iv, ct)

	var got LaunchOptions
	if err := json.Unmarshal(plain, &got); err != nil {
		t.Fatalf("unmarshal decrypted proof: %v", err)
	}
	if got != launch {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, launch)
	}
}

// decryptLaunchProofForTest mirrors encryptLaunchProof's AES-CFB keying
// exactly (key = sha256(secret), iv = sessionIV) to confirm the console's
// side of the same derivation would recover the plaintext.
func decryptLaunchProofForTest(t *testing.T, secret, sessionIV, ciphertext []byte) []byte {
	t.Helper()
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, sessionIV)
	stream := cryptocipher.NewCFBDecrypter(block, iv)
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out
}

func TestTSNCacheSuppressesDuplicatesAndEvictsOldest(t *testing.T) {
	c := newTSNCache(3)

	if c.SeenOrAdd(1) {
		t.Fatal("tsn 1 should be new")
	}
	if !c.SeenOrAdd(1) {
		t.Fatal("tsn 1 should now be seen")
	}

	c.SeenOrAdd(2)
	c.SeenOrAdd(3)
	// Cache is full at {1,2,3}; adding 4 should evict 1.
	if c.SeenOrAdd(4) {
		t.Fatal("tsn 4 should be new")
	}
	if c.SeenOrAdd(1) {
		t.Fatal("tsn 1 should have been evicted and count as new again")
	}
}

func TestTSNCacheDefaultsWhenMaxIsZero(t *testing.T) {
	c := newTSNCache(0)
	if c.max != 1000 {
		t.Fatalf("max = %d, want default 1000", c.max)
	}
}

func TestHapticLevelScale(t *testing.T) {
	cases := []struct {
		level hapticLevel
		want  float64
	}{
		{hapticOff, -1},
		{hapticFull, 1.0},
		{hapticMedium, 0.5},
		{hapticWeak, 0.33},
	}
	for _, c := range cases {
		if got := c.level.scale(); got != c.want {
			t.Errorf("hapticLevel(%d).scale() = %v, want %v", c.level, got, c.want)
		}
	}
}

func TestMustCompactJSONProducesCompactOutput(t *testing.T) {
	launch := LaunchOptions{Width: 1280, Height: 720, FPS: 30, BitrateKbps: 8000, Codec: "h264"}
	out := mustCompactJSON(launch)
	if bytes.Contains(out, []byte("\n")) || bytes.Contains(out, []byte("  ")) {
		t.Fatalf("expected compact JSON, got %q", out)
	}
	var got LaunchOptions
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != launch {
		t.Fatalf("got %+v, want %+v", got, launch)
	}
}
