// Package corecrypto is the facade through which other packages reach
// the cryptographic primitives (X25519, XChaCha20-Poly1305, HKDF-SHA256,
// Argon2id, Ed25519, ML-KEM-768). Nothing outside this package imports
// golang.org/x/crypto. A few packages still import a primitive library
// themselves: internal/ratchet imports circl for the KEM public-key
// type, internal/orchestrator imports crypto/ed25519 for the key type,
// and internal/ktclient verifies tree-head signatures with
// crypto/ed25519 directly.
package corecrypto

import "errors"

// KeySize is the width in bytes of every X25519 key, shared secret,
// symmetric chain/message/root key, and HKDF output used across the
// protocol stack.
const KeySize = 32

// NonceSize is the XChaCha20-Poly1305 nonce width.
const NonceSize = 24

// TagSize is the Poly1305 authentication tag width.
const TagSize = 16

var (
	// ErrOpen is returned when an AEAD open fails authentication.
	ErrOpen = errors.New("corecrypto: authentication failed")
	// ErrKeySize is returned when a caller supplies a key of the wrong length.
	ErrKeySize = errors.New("corecrypto: invalid key size")
	// ErrShortCiphertext is returned when a ciphertext is too short to contain a nonce and tag.
	ErrShortCiphertext = errors.New("corecrypto: ciphertext too short")
)

// Zero overwrites b with zero bytes. It never reports success to the
// compiler's dead-store elimination by ranging over the slice, which is
// the same trick the reference implementation's secret-hygiene helpers
// use for stack- and heap-allocated secrets alike.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
