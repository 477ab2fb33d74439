package corecrypto

import (
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// KEMPublicKeySize and KEMCiphertextSize are the fixed wire sizes for
// the ML-KEM-768-style share added to X3DH.
var (
	KEMPublicKeySize  = kyber768.Scheme().PublicKeySize()
	KEMCiphertextSize = kyber768.Scheme().CiphertextSize()
)

// KEMKeyPair is a post-quantum KEM key pair layered alongside the
// classical X25519 identity and signed pre-keys, so that X3DH's shared
// secret remains confidential even against an adversary who later
// breaks X25519 but not the KEM.
type KEMKeyPair struct {
	Public  kyber768.PublicKey
	Private kyber768.PrivateKey
}

// GenerateKEMKeyPair produces a new KEM key pair.
func GenerateKEMKeyPair() (KEMKeyPair, error) {
	pub, priv, err := kyber768.GenerateKeyPair(nil)
	if err != nil {
		return KEMKeyPair{}, fmt.Errorf("corecrypto: generate kem key pair: %w", err)
	}
	return KEMKeyPair{Public: *pub, Private: *priv}, nil
}

// KEMEncapsulate generates a fresh shared secret and its ciphertext
// under the peer's public key — the initiator's side of the hybrid
// X3DH handshake.
func KEMEncapsulate(pub *kyber768.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ciphertext = make([]byte, kyber768.Scheme().CiphertextSize())
	sharedSecret = make([]byte, kyber768.Scheme().SharedKeySize())
	seed := make([]byte, kyber768.Scheme().EncapsulationSeedSize())
	if err := randRead(seed); err != nil {
		return nil, nil, fmt.Errorf("corecrypto: kem encapsulate seed: %w", err)
	}
	pub.EncapsulateTo(ciphertext, sharedSecret, seed)
	return ciphertext, sharedSecret, nil
}

// KEMDecapsulate recovers the shared secret from ciphertext using the
// recipient's private key — the responder's side.
func KEMDecapsulate(priv *kyber768.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != kyber768.Scheme().CiphertextSize() {
		return nil, fmt.Errorf("corecrypto: kem ciphertext must be %d bytes", kyber768.Scheme().CiphertextSize())
	}
	sharedSecret := make([]byte, kyber768.Scheme().SharedKeySize())
	priv.DecapsulateTo(sharedSecret, ciphertext)
	return sharedSecret, nil
}

// UnmarshalKEMPublicKey parses a wire-format KEM public key.
func UnmarshalKEMPublicKey(raw []byte) (*kyber768.PublicKey, error) {
	pk, err := kyber768.Scheme().UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("corecrypto: unmarshal kem public key: %w", err)
	}
	kpk, ok := pk.(*kyber768.PublicKey)
	if !ok {
		return nil, fmt.Errorf("corecrypto: unexpected kem public key type")
	}
	return kpk, nil
}
