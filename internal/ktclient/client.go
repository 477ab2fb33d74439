package ktclient

import (
	"sync"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// StateMagic tags the on-disk snapshot file kt_state.bin: magic
// MIKTSTH1 + u64 tree_size + 32B root.
var StateMagic = "MIKTSTH1"

// Snapshot is a client's last-known tree state.
type Snapshot struct {
	TreeSize uint64
	Root     [32]byte
}

// EncodeSnapshot serialises a snapshot for on-disk storage.
func EncodeSnapshot(s Snapshot) []byte {
	w := wire.NewWriter(8 + 8 + 32)
	w.PutRaw([]byte(StateMagic))
	w.PutU64(s.TreeSize)
	w.PutRaw(s.Root[:])
	return w.Bytes()
}

// DecodeSnapshot parses an on-disk snapshot.
func DecodeSnapshot(buf []byte) (Snapshot, error) {
	r := wire.NewReader(buf)
	if err := r.ExpectMagic(StateMagic); err != nil {
		return Snapshot{}, err
	}
	treeSize, err := r.U64()
	if err != nil {
		return Snapshot{}, err
	}
	rootBytes, err := r.Raw(32)
	if err != nil {
		return Snapshot{}, err
	}
	var root [32]byte
	copy(root[:], rootBytes)
	return Snapshot{TreeSize: treeSize, Root: root}, nil
}

// Client tracks a local tree snapshot, reconciling it against peers'
// gossiped snapshots and latching a TrustViolation-style alert after
// too many consecutive mismatches.
type Client struct {
	mu                sync.Mutex
	snapshot          Snapshot
	hasSnapshot       bool
	mismatchThreshold int
	mismatchCount     int
	alertLatched      bool
}

// NewClient starts a client with no prior snapshot; the first STH it
// sees is trusted on faith and becomes the baseline for future
// consistency checks.
func NewClient(mismatchThreshold int) *Client {
	if mismatchThreshold <= 0 {
		mismatchThreshold = DefaultMismatchThreshold
	}
	return &Client{mismatchThreshold: mismatchThreshold}
}

// Snapshot returns the client's current trusted snapshot.
func (c *Client) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.hasSnapshot
}

// AlertLatched reports whether the mismatch counter has crossed the
// configured threshold; the condition persists until ResetAlert is
// called by operator action.
func (c *Client) AlertLatched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertLatched
}

// ResetAlert clears the latched alert and mismatch counter.
func (c *Client) ResetAlert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alertLatched = false
	c.mismatchCount = 0
}

// Reconcile advances the client's trusted snapshot to a new one,
// verifying a consistency proof against the last-known snapshot when
// one exists. On success the snapshot advances and the mismatch
// counter resets; on failure the mismatch counter increments and, past
// threshold, the alert latches: every outbound plaintext is wrapped
// against the current trusted snapshot, and on disagreement this
// client fetches a consistency proof before trusting the new one.
func (c *Client) Reconcile(newSnapshot Snapshot, consistencyProof [][32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasSnapshot {
		c.snapshot = newSnapshot
		c.hasSnapshot = true
		MismatchGauge.Set(0)
		return nil
	}

	err := VerifyConsistencyProof(c.snapshot.TreeSize, newSnapshot.TreeSize, c.snapshot.Root, newSnapshot.Root, consistencyProof)
	if err != nil {
		c.mismatchCount++
		MismatchGauge.Set(float64(c.mismatchCount))
		if c.mismatchCount >= c.mismatchThreshold {
			c.alertLatched = true
		}
		return err
	}

	c.snapshot = newSnapshot
	c.mismatchCount = 0
	MismatchGauge.Set(0)
	return nil
}
