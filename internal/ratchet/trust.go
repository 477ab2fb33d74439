package ratchet

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// TrustState is the local verdict on a peer's identity fingerprint.
type TrustState uint8

const (
	TrustUnknown TrustState = iota
	TrustPending
	TrustVerified
)

// TrustStore tracks per-peer fingerprint trust decisions. A session
// must not be used to Encrypt until its peer has been trusted, either
// by accepting trust-on-first-use or by an explicit SAS comparison.
type TrustStore struct {
	mu    sync.Mutex
	state map[string]trustEntry
}

type trustEntry struct {
	fingerprint [32]byte
	state       TrustState
}

func NewTrustStore() *TrustStore {
	return &TrustStore{state: make(map[string]trustEntry)}
}

// PinPeer records the fingerprint first observed for a peer, marking
// it pending until explicitly verified.
func (t *TrustStore) PinPeer(peer string, fingerprint [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.state[peer]; exists {
		return
	}
	t.state[peer] = trustEntry{fingerprint: fingerprint, state: TrustPending}
}

// TrustPendingPeer promotes a pending peer to verified, e.g. after the
// user confirms a matching SAS out of band.
func (t *TrustStore) TrustPendingPeer(peer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.state[peer]
	if !ok {
		return fmt.Errorf("ratchet: no pinned fingerprint for peer %q", peer)
	}
	entry.state = TrustVerified
	t.state[peer] = entry
	return nil
}

// IsTrusted reports whether a peer has been verified.
func (t *TrustStore) IsTrusted(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[peer].state == TrustVerified
}

// Fingerprint returns the pinned fingerprint for a peer, if any.
func (t *TrustStore) Fingerprint(peer string) ([32]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.state[peer]
	return e.fingerprint, ok
}

// SAS renders a short authentication string from both parties'
// fingerprints: a domain-separated re-hash of the concatenated
// fingerprints, truncated to 20 hex characters and grouped in 4s for
// easy verbal comparison.
func SAS(localFingerprint, remoteFingerprint [32]byte) string {
	var ordered [64]byte
	if string(localFingerprint[:]) < string(remoteFingerprint[:]) {
		copy(ordered[:32], localFingerprint[:])
		copy(ordered[32:], remoteFingerprint[:])
	} else {
		copy(ordered[:32], remoteFingerprint[:])
		copy(ordered[32:], localFingerprint[:])
	}
	digest := corecrypto.SHA256([]byte(infoSAS), ordered[:])
	raw := hex.EncodeToString(digest[:])[:20]

	grouped := make([]byte, 0, len(raw)+len(raw)/4)
	for i, c := range []byte(raw) {
		if i > 0 && i%4 == 0 {
			grouped = append(grouped, '-')
		}
		grouped = append(grouped, c)
	}
	return string(grouped)
}
