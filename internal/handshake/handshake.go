// Package handshake derives the local X25519 key pair and the shared
// secret used to build the StreamCipher during BIG/BANG (§3 HandshakeKeys,
// §4.10 step 3-4). The ECDH primitive itself is assumed available per the
// engine's scope; this package is the Takion-specific wiring around it:
// key-pair generation, a detached signature over the public key, and
// shared-secret derivation on BANG.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ErrInvalidSignature is returned when the peer's ECDH public key fails
// signature verification during BANG.
var ErrInvalidSignature = errors.New("handshake: invalid peer ecdh signature")

// KeyPair is the local ECDH key pair plus the detached Ed25519 signature
// over its public key, carried in the BIG message.
type KeyPair struct {
	Public     [32]byte
	private    [32]byte
	Signature  []byte
	signingKey ed25519.PrivateKey
}

// NewKeyPair generates a fresh X25519 key pair and signs the public key
// with the given long-term Ed25519 signing key.
func NewKeyPair(signingKey ed25519.PrivateKey) (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("handshake: generate private scalar: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("handshake: derive public key: %w", err)
	}

	kp := &KeyPair{private: priv, signingKey: signingKey}
	copy(kp.Public[:], pub)
	kp.Signature = ed25519.Sign(signingKey, kp.Public[:])
	return kp, nil
}

// DeriveSecret computes the 32-byte shared secret from the peer's public
// key, verifying its signature against peerVerifyKey first. The result
// feeds cipher.New as ecdh_secret.
func (kp *KeyPair) DeriveSecret(peerPublic, peerSignature []byte, peerVerifyKey ed25519.PublicKey) ([]byte, error) {
	if !ed25519.Verify(peerVerifyKey, peerPublic, peerSignature) {
		return nil, ErrInvalidSignature
	}
	secret, err := curve25519.X25519(kp.private[:], peerPublic)
	if err != nil {
		return nil, fmt.Errorf("handshake: derive shared secret: %w", err)
	}
	return secret, nil
}
