// Package security holds the cross-cutting crypto primitives shared
// by more than one domain component: certificate-pin fingerprinting,
// the transport-layer trust-on-first-use SAS rendering, and
// constant-time comparison. The pairwise-ratchet SAS in
// internal/ratchet is deliberately NOT re-exported from here — it
// hashes two parties' identity fingerprints together
// order-independently, a different derivation from the single-value
// certificate SAS below, and centralizing both behind one function
// would blur that distinction rather than clarify it.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

const infoTLSSAS = "mi_e2ee_tls_pin_sas_v1"

// FingerprintDER returns the raw SHA-256 of a leaf certificate's DER
// encoding; the trust store keeps its hex encoding as the pin.
func FingerprintDER(der []byte) [32]byte {
	return sha256.Sum256(der)
}

// ConstantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// RenderSAS re-hashes a pinned fingerprint with a domain-separation
// prefix and truncates/groups it for a human to read aloud and
// compare against the other device, per the trust-on-first-use flow
// (re-hash, truncate to 20 hex chars, render in groups of four).
func RenderSAS(fingerprint [32]byte) string {
	digest := corecrypto.SHA256([]byte(infoTLSSAS), fingerprint[:])
	raw := hex.EncodeToString(digest[:])[:20]
	out := make([]byte, 0, len(raw)+len(raw)/4)
	for i, c := range []byte(raw) {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, c)
	}
	return string(out)
}
