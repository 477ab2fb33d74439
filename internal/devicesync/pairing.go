package devicesync

import (
	"encoding/hex"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// PairingOuterMagic, PairingRequestMagic, and PairingResponseMagic tag
// the three pairing wire shapes.
var (
	PairingOuterMagic    = "MIPY"
	PairingRequestMagic  = "MIPR"
	PairingResponseMagic = "MIPS"
)

const pairingVersion uint8 = 1

// PairingRole distinguishes the two sides of one pairing session.
type PairingRole uint8

const (
	PairingRolePrimary PairingRole = iota
	PairingRoleLinked
)

// PairingState is the transient state either role holds for the
// duration of one pairing.
type PairingState struct {
	Role          PairingRole
	PairingIDHex  string
	PairingKey    [32]byte
	RequestID     [16]byte
	AwaitResponse bool
}

// Wipe zeroises the pairing key and request id, leaving the struct
// otherwise inert.
func (p *PairingState) Wipe() {
	corecrypto.Zero(p.PairingKey[:])
	corecrypto.Zero(p.RequestID[:])
	*p = PairingState{}
}

// DerivePairingIDAndKey computes the public pairing-id and the
// symmetric pairing key from a freshly generated (or parsed) 16-byte
// secret.
func DerivePairingIDAndKey(secret [PairingSecretSize]byte) (pairingIDHex string, pairingKey [32]byte, err error) {
	idDigest := corecrypto.SHA256([]byte(infoPairingID), secret[:])
	pairingIDHex = hex.EncodeToString(idDigest[:])[:32]

	keyBytes, err := corecrypto.HKDF(secret[:], nil, []byte(infoPairingKey), 32)
	if err != nil {
		return "", [32]byte{}, fmt.Errorf("devicesync: derive pairing key: %w", err)
	}
	copy(pairingKey[:], keyBytes)
	return pairingIDHex, pairingKey, nil
}

// BeginPrimaryPairing generates a fresh pairing secret and returns both
// the resulting PairingState and the hex code to render out-of-band
// (grouped in 4s for easy transcription, matching GroupHex4 in the
// original pairing flow).
func BeginPrimaryPairing() (PairingState, string, error) {
	var secret [PairingSecretSize]byte
	if err := corecrypto.RandomFill(secret[:]); err != nil {
		return PairingState{}, "", fmt.Errorf("devicesync: generate pairing secret: %w", err)
	}
	pairingID, key, err := DerivePairingIDAndKey(secret)
	if err != nil {
		corecrypto.Zero(secret[:])
		return PairingState{}, "", err
	}
	code := groupHex4(hex.EncodeToString(secret[:]))
	corecrypto.Zero(secret[:])
	return PairingState{
		Role:         PairingRolePrimary,
		PairingIDHex: pairingID,
		PairingKey:   key,
	}, code, nil
}

// BeginLinkedPairing parses an out-of-band pairing code and derives
// the matching pairing state, ready to send a PairingRequest.
func BeginLinkedPairing(pairingCode string) (PairingState, error) {
	secretHex := ungroupHex4(pairingCode)
	secretBytes, err := hex.DecodeString(secretHex)
	if err != nil || len(secretBytes) != PairingSecretSize {
		return PairingState{}, ErrBadPairingCode
	}
	var secret [PairingSecretSize]byte
	copy(secret[:], secretBytes)
	pairingID, key, err := DerivePairingIDAndKey(secret)
	corecrypto.Zero(secret[:])
	if err != nil {
		return PairingState{}, err
	}
	return PairingState{
		Role:          PairingRoleLinked,
		PairingIDHex:  pairingID,
		PairingKey:    key,
		AwaitResponse: true,
	}, nil
}

func groupHex4(s string) string {
	out := make([]byte, 0, len(s)+len(s)/4)
	for i, c := range []byte(s) {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, c)
	}
	return string(out)
}

func ungroupHex4(s string) string {
	out := make([]byte, 0, len(s))
	for _, c := range []byte(s) {
		if c == '-' || c == ' ' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// EncryptPairingPayload seals a plaintext pairing message under the
// pairing key, AD-binding the outer magic+version.
func EncryptPairingPayload(pairingKey [32]byte, plaintext []byte) ([]byte, error) {
	ad := append([]byte(PairingOuterMagic), pairingVersion)
	sealed, err := corecrypto.Seal(pairingKey[:], plaintext, ad)
	if err != nil {
		return nil, fmt.Errorf("devicesync: seal pairing payload: %w", err)
	}
	w := wire.NewWriter(len(ad) + len(sealed))
	w.PutRaw(ad)
	w.PutRaw(sealed)
	return w.Bytes(), nil
}

// DecryptPairingPayload opens an outer pairing envelope.
func DecryptPairingPayload(pairingKey [32]byte, cipher []byte) ([]byte, error) {
	r := wire.NewReader(cipher)
	if err := r.ExpectMagic(PairingOuterMagic); err != nil {
		return nil, err
	}
	ver, err := r.U8()
	if err != nil {
		return nil, err
	}
	if ver != pairingVersion {
		return nil, ErrAuthFailure
	}
	ad := append([]byte(PairingOuterMagic), ver)
	plaintext, err := corecrypto.Open(pairingKey[:], r.Rest(), ad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// EncodePairingRequest builds the MIPR inner plaintext.
func EncodePairingRequest(deviceID string, requestID [16]byte) []byte {
	w := wire.NewWriter(4 + 1 + 16 + 2 + len(deviceID))
	w.PutRaw([]byte(PairingRequestMagic))
	w.PutU8(pairingVersion)
	w.PutFixedID(requestID[:])
	w.PutString(deviceID)
	return w.Bytes()
}

// DecodePairingRequest parses an MIPR inner plaintext.
func DecodePairingRequest(buf []byte) (deviceID string, requestID [16]byte, err error) {
	r := wire.NewReader(buf)
	if err = r.ExpectMagic(PairingRequestMagic); err != nil {
		return "", requestID, err
	}
	ver, err := r.U8()
	if err != nil {
		return "", requestID, err
	}
	if ver != pairingVersion {
		return "", requestID, ErrAuthFailure
	}
	idBytes, err := r.FixedID()
	if err != nil {
		return "", requestID, err
	}
	copy(requestID[:], idBytes)
	deviceID, err = r.String()
	return deviceID, requestID, err
}

// EncodePairingResponse builds the MIPS inner plaintext.
func EncodePairingResponse(requestID [16]byte, deviceSyncKey [32]byte) []byte {
	w := wire.NewWriter(4 + 1 + 16 + 32)
	w.PutRaw([]byte(PairingResponseMagic))
	w.PutU8(pairingVersion)
	w.PutFixedID(requestID[:])
	w.PutRaw(deviceSyncKey[:])
	return w.Bytes()
}

// DecodePairingResponse parses an MIPS inner plaintext.
func DecodePairingResponse(buf []byte) (requestID [16]byte, deviceSyncKey [32]byte, err error) {
	r := wire.NewReader(buf)
	if err = r.ExpectMagic(PairingResponseMagic); err != nil {
		return requestID, deviceSyncKey, err
	}
	ver, err := r.U8()
	if err != nil {
		return requestID, deviceSyncKey, err
	}
	if ver != pairingVersion {
		return requestID, deviceSyncKey, ErrAuthFailure
	}
	idBytes, err := r.FixedID()
	if err != nil {
		return requestID, deviceSyncKey, err
	}
	copy(requestID[:], idBytes)
	keyBytes, err := r.Raw(32)
	if err != nil {
		return requestID, deviceSyncKey, err
	}
	copy(deviceSyncKey[:], keyBytes)
	return requestID, deviceSyncKey, nil
}
