// Package ktclient implements a client-side verifier for a Merkle-tree
// key-transparency log (C6): inclusion and consistency proof replay,
// signed-tree-head verification, and gossip wrap/unwrap of peer roots
// attached to every outbound message.
//
// The entry/hash-chain shape is adapted from
// internal/security/keytransparency.go's KeyLogEntry — but where that
// type models a server writing and storing an append-only log in a
// database, this package only ever verifies proofs a server hands it;
// it never stores the log itself.
package ktclient

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrInclusionProofFailed   = errors.New("ktclient: inclusion proof did not reconstruct the committed root")
	ErrConsistencyRollback    = errors.New("ktclient: new tree size is smaller than the last known size")
	ErrConsistencySplitView   = errors.New("ktclient: tree size unchanged but root differs")
	ErrConsistencyProofFailed = errors.New("ktclient: consistency proof did not reconstruct the expected roots")
	ErrSTHSignatureInvalid    = errors.New("ktclient: signed tree head signature invalid")
	ErrGossipAlertLatched     = errors.New("ktclient: gossip mismatch count exceeded threshold")
)

// DefaultMismatchThreshold is the default number of consecutive gossip
// verification failures before the alert state latches.
const DefaultMismatchThreshold = 3

// MismatchGauge exposes the current latched mismatch count so an
// operator dashboard can alert on it.
var MismatchGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mi_e2ee_ktclient_gossip_mismatch_count",
	Help: "Consecutive key-transparency gossip verification mismatches since the last successful reconciliation.",
})
