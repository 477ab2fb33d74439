package corecrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SigningKeyPair is an Ed25519 key pair used to sign signed pre-keys,
// group sender-key distributions, and group-call key distributions. This wraps
// crypto/ed25519 directly rather than improvising an ECDSA-over-X25519
// -bytes substitute.
type SigningKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSigningKeyPair produces a new Ed25519 key pair.
func GenerateSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("corecrypto: generate signing key: %w", err)
	}
	return SigningKeyPair{Private: priv, Public: pub}, nil
}

// Sign signs message with the private key.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether sig is a valid Ed25519 signature over message
// by pub.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
