package ratchet

import (
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// IdentityKeyset is the long-term signing and DH key pair for a local
// user.
type IdentityKeyset struct {
	Signing corecrypto.SigningKeyPair
	DH      corecrypto.DHKeyPair
}

// GenerateIdentityKeyset creates a fresh identity keyset.
func GenerateIdentityKeyset() (IdentityKeyset, error) {
	signing, err := corecrypto.GenerateSigningKeyPair()
	if err != nil {
		return IdentityKeyset{}, fmt.Errorf("ratchet: generate identity signing key: %w", err)
	}
	dh, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return IdentityKeyset{}, fmt.Errorf("ratchet: generate identity dh key: %w", err)
	}
	return IdentityKeyset{Signing: signing, DH: dh}, nil
}

// Fingerprint computes SHA-256 over a canonical domain-separated
// encoding of the keyset's two public keys.
func (k IdentityKeyset) Fingerprint() [32]byte {
	return FingerprintOf(k.Signing.Public, k.DH.Public)
}

// FingerprintOf computes the same domain-separated fingerprint as
// IdentityKeyset.Fingerprint from a peer's raw public keys, so a
// PreKeyBundle — which carries no private material — can be pinned
// into a TrustStore the same way a local identity is.
func FingerprintOf(signingPub []byte, dhPub [32]byte) [32]byte {
	return corecrypto.SHA256([]byte(infoFingerprint), signingPub, dhPub[:])
}

// SignedPreKey is a medium-term DH key signed by the owner's identity
// signing key, published so peers can run X3DH without the owner
// online.
type SignedPreKey struct {
	KeyID     uint32
	DH        corecrypto.DHKeyPair
	Signature []byte
}

// NewSignedPreKey generates and signs a fresh signed pre-key.
func NewSignedPreKey(identity IdentityKeyset, keyID uint32) (SignedPreKey, error) {
	dh, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return SignedPreKey{}, fmt.Errorf("ratchet: generate signed pre-key: %w", err)
	}
	sig := corecrypto.Sign(identity.Signing.Private, dh.Public[:])
	return SignedPreKey{KeyID: keyID, DH: dh, Signature: sig}, nil
}

// OneTimePreKey is a single-use DH key; the server discards it once issued.
type OneTimePreKey struct {
	KeyID uint32
	DH    corecrypto.DHKeyPair
}

// NewOneTimePreKey generates a fresh one-time pre-key.
func NewOneTimePreKey(keyID uint32) (OneTimePreKey, error) {
	dh, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return OneTimePreKey{}, fmt.Errorf("ratchet: generate one-time pre-key: %w", err)
	}
	return OneTimePreKey{KeyID: keyID, DH: dh}, nil
}

// PreKeyBundle is the public material a peer publishes so others can
// initiate a session without them online.
type PreKeyBundle struct {
	Username          string
	IdentitySigPub    []byte // Ed25519 public key
	IdentityDHPub     [32]byte
	SignedPreKeyID    uint32
	SignedPreKeyPub   [32]byte
	SignedPreKeySig   []byte
	OneTimePreKeyID   *uint32
	OneTimePreKeyPub  *[32]byte
	KEMPublicKey      []byte // ML-KEM-768-style encapsulation public key
}

// VerifySignature checks that the bundle's signed pre-key was actually
// signed by its identity signing key, closing off the MITM an
// ECDSA-over-X25519-bytes improvisation would leave open by verifying
// with real Ed25519 instead.
func (b PreKeyBundle) VerifySignature() bool {
	return corecrypto.Verify(b.IdentitySigPub, b.SignedPreKeyPub[:], b.SignedPreKeySig)
}

// kemPublicKey parses the bundle's KEM public key bytes.
func (b PreKeyBundle) kemPublicKey() (*kyber768.PublicKey, error) {
	return corecrypto.UnmarshalKEMPublicKey(b.KEMPublicKey)
}
