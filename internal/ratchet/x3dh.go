package ratchet

import (
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// SessionInit is the first message an initiator sends a peer: enough
// of its ephemeral material for the responder to replay the same X3DH
// computation: the receiver replays the same computation on first
// contact.
type SessionInit struct {
	InitiatorIdentityDHPub [32]byte
	EphemeralPub           [32]byte
	UsedOneTimePreKeyID    *uint32
	KEMCiphertext          []byte
}

// x3dhSecret concatenates the DH outputs and the KEM shared secret and
// derives the X3DH shared secret via HKDF: DH1..DH4 (DH4 only when a
// one-time pre-key was consumed) plus an appended post-quantum KEM
// share for hybrid security.
func x3dhSecret(dh1, dh2, dh3 [32]byte, dh4 *[32]byte, kemSS []byte) ([32]byte, error) {
	concat := make([]byte, 0, 32*4+64)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)
	if dh4 != nil {
		concat = append(concat, dh4[:]...)
	}
	concat = append(concat, kemSS...)

	out, err := corecrypto.HKDF(concat, nil, []byte(infoX3DH), corecrypto.KeySize)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ratchet: x3dh hkdf: %w", err)
	}
	var secret [32]byte
	copy(secret[:], out)
	corecrypto.Zero(concat)
	return secret, nil
}

// InitiateSession runs the initiator's side of X3DH against a peer's
// published PreKeyBundle: it verifies the bundle's signature, performs
// the four (or three, if no one-time pre-key was offered) DH
// operations plus a KEM encapsulation, and returns the shared secret
// together with the SessionInit message to send the peer.
func InitiateSession(local IdentityKeyset, bundle PreKeyBundle) ([32]byte, SessionInit, error) {
	if !bundle.VerifySignature() {
		return [32]byte{}, SessionInit{}, ErrBadSignature
	}

	ephemeral, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: generate ephemeral key: %w", err)
	}

	dh1, err := corecrypto.DH(local.DH.Private, bundle.SignedPreKeyPub)
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: dh1: %w", err)
	}
	dh2, err := corecrypto.DH(ephemeral.Private, bundle.IdentityDHPub)
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: dh2: %w", err)
	}
	dh3, err := corecrypto.DH(ephemeral.Private, bundle.SignedPreKeyPub)
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: dh3: %w", err)
	}

	var dh4ptr *[32]byte
	init := SessionInit{
		InitiatorIdentityDHPub: local.DH.Public,
		EphemeralPub:           ephemeral.Public,
	}
	if bundle.OneTimePreKeyPub != nil {
		dh4, err := corecrypto.DH(ephemeral.Private, *bundle.OneTimePreKeyPub)
		if err != nil {
			return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: dh4: %w", err)
		}
		dh4ptr = &dh4
		init.UsedOneTimePreKeyID = bundle.OneTimePreKeyID
	}

	kemPub, err := bundle.kemPublicKey()
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: parse kem public key: %w", err)
	}
	kemCT, kemSS, err := corecrypto.KEMEncapsulate(kemPub)
	if err != nil {
		return [32]byte{}, SessionInit{}, fmt.Errorf("ratchet: kem encapsulate: %w", err)
	}
	init.KEMCiphertext = kemCT

	secret, err := x3dhSecret(dh1, dh2, dh3, dh4ptr, kemSS)
	if err != nil {
		return [32]byte{}, SessionInit{}, err
	}
	return secret, init, nil
}

// RespondSession runs the responder's side of X3DH from a received
// SessionInit, using the local signed pre-key, the KEM private key and,
// if referenced, the matching one-time pre-key to replay the same
// shared secret the initiator derived.
func RespondSession(localIdentity IdentityKeyset, spk SignedPreKey, otpk *OneTimePreKey, kem corecrypto.KEMKeyPair, init SessionInit) ([32]byte, error) {
	dh1, err := corecrypto.DH(spk.DH.Private, init.InitiatorIdentityDHPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ratchet: dh1: %w", err)
	}
	dh2, err := corecrypto.DH(localIdentity.DH.Private, init.EphemeralPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ratchet: dh2: %w", err)
	}
	dh3, err := corecrypto.DH(spk.DH.Private, init.EphemeralPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ratchet: dh3: %w", err)
	}

	var dh4ptr *[32]byte
	if init.UsedOneTimePreKeyID != nil {
		if otpk == nil || otpk.KeyID != *init.UsedOneTimePreKeyID {
			return [32]byte{}, fmt.Errorf("ratchet: missing one-time pre-key %d referenced by peer", *init.UsedOneTimePreKeyID)
		}
		dh4, err := corecrypto.DH(otpk.DH.Private, init.EphemeralPub)
		if err != nil {
			return [32]byte{}, fmt.Errorf("ratchet: dh4: %w", err)
		}
		dh4ptr = &dh4
	}

	kemSS, err := corecrypto.KEMDecapsulate(&kem.Private, init.KEMCiphertext)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ratchet: kem decapsulate: %w", err)
	}

	return x3dhSecret(dh1, dh2, dh3, dh4ptr, kemSS)
}
