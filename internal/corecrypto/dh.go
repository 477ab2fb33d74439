package corecrypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// DHKeyPair is an X25519 key pair used for identity keys, signed
// pre-keys, one-time pre-keys, and every ratchet step's DH key.
type DHKeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateDHKeyPair produces a new, correctly clamped X25519 key pair.
func GenerateDHKeyPair() (DHKeyPair, error) {
	var kp DHKeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return DHKeyPair{}, fmt.Errorf("corecrypto: generate dh key pair: %w", err)
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// DH performs an X25519 Diffie-Hellman exchange.
func DH(private, public [KeySize]byte) ([KeySize]byte, error) {
	var shared [KeySize]byte
	curve25519.ScalarMult(&shared, &private, &public)
	var zero [KeySize]byte
	if shared == zero {
		return [KeySize]byte{}, fmt.Errorf("corecrypto: dh produced an all-zero shared secret")
	}
	return shared, nil
}
