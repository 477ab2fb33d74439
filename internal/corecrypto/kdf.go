package corecrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF derives outputLength bytes from ikm using HKDF-SHA256 with the
// given salt and info, the same construction the X3DH handshake, the
// Double Ratchet's root/chain derivation, and the device-sync pairing
// key all build on.
func HKDF(ikm, salt, info []byte, outputLength int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outputLength)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("corecrypto: hkdf: %w", err)
	}
	return out, nil
}

// SHA256 hashes data with SHA-256. No repo in the retrieval pack pulls
// in a third-party hash library for this — every pack example (and
// circl's own internals) call the standard library directly — so this
// wraps crypto/sha256 rather than reaching for an equivalent.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 computes HMAC-SHA256 over data under key, used for the
// legacy handshake's server/client proof exchange where a keyed MAC
// over a transcript hash is needed rather than a KDF.
func HMACSHA256(key []byte, data ...[]byte) [32]byte {
	h := hmac.New(sha256.New, key)
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
