package handshake

import (
	"crypto/ed25519"
	"testing"
)

func TestDeriveSecretMatchesBothSides(t *testing.T) {
	localVerify, localSign, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate local signing key: %v", err)
	}
	peerVerify, peerSign, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate peer signing key: %v", err)
	}
	local, err := NewKeyPair(localSign)
	if err != nil {
		t.Fatalf("NewKeyPair(local): %v", err)
	}
	peer, err := NewKeyPair(peerSign)
	if err != nil {
		t.Fatalf("NewKeyPair(peer): %v", err)
	}

	localSecret, err := local.DeriveSecret(peer.Public[:], peer.Signature, peerVerify)
	if err != nil {
		t.Fatalf("local.DeriveSecret: %v", err)
	}
	peerSecret, err := peer.DeriveSecret(local.Public[:], local.Signature, localVerify)
	if err != nil {
		t.Fatalf("peer.DeriveSecret: %v", err)
	}

	if string(localSecret) != string(peerSecret) {
		t.Fatal("derived secrets differ between the two sides")
	}
	if len(localSecret) != 32 {
		t.Fatalf("secret length = %d, want 32", len(localSecret))
	}
}

func TestDeriveSecretRejectsBadSignature(t *testing.T) {
	_, localSign, _ := ed25519.GenerateKey(nil)
	peerVerify, peerSign, _ := ed25519.GenerateKey(nil)

	local, err := NewKeyPair(localSign)
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	peer, err := NewKeyPair(peerSign)
	if err != nil {
		t.Fatalf("NewKeyPair(peer): %v", err)
	}

	tamperedSig := append([]byte(nil), peer.Signature...)
	tamperedSig[0] ^= 0xFF

	if _, err := local.DeriveSecret(peer.Public[:], tamperedSig, peerVerify); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
