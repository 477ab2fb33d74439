package ktclient

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

// mth computes the root of a small in-memory tree from its leaf hashes,
// used to hand-construct inclusion/consistency proofs for tests.
func mth(hashes [][32]byte) [32]byte {
	n := len(hashes)
	if n == 1 {
		return hashes[0]
	}
	k := int(largestPowerOfTwoLessThan(uint64(n)))
	left := mth(hashes[:k])
	right := mth(hashes[k:])
	return hashChildren(left, right)
}

func path(index int, hashes [][32]byte) [][32]byte {
	n := len(hashes)
	if n == 1 {
		return nil
	}
	k := int(largestPowerOfTwoLessThan(uint64(n)))
	if index < k {
		return append(path(index, hashes[:k]), mth(hashes[k:]))
	}
	return append(path(index-k, hashes[k:]), mth(hashes[:k]))
}

func TestInclusionProofRoundTrip(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	hashes := make([][32]byte, len(leaves))
	for i, l := range leaves {
		hashes[i] = LeafHash(l)
	}
	root := mth(hashes)

	for i := range leaves {
		p := path(i, hashes)
		err := VerifyInclusionProof(hashes[i], uint64(i), uint64(len(leaves)), p, root)
		require.NoError(t, err, "leaf %d", i)
	}
}

func TestInclusionProofRejectsWrongRoot(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	hashes := make([][32]byte, len(leaves))
	for i, l := range leaves {
		hashes[i] = LeafHash(l)
	}
	p := path(0, hashes)
	var wrongRoot [32]byte
	wrongRoot[0] = 0xFF
	err := VerifyInclusionProof(hashes[0], 0, 3, p, wrongRoot)
	require.ErrorIs(t, err, ErrInclusionProofFailed)
}

func TestConsistencyProofFromTwoToThreeLeaves(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	hashes := make([][32]byte, len(leaves))
	for i, l := range leaves {
		hashes[i] = LeafHash(l)
	}
	root2 := mth(hashes[:2])
	root3 := mth(hashes)

	// consistency proof from size 2 to size 3 is just the new leaf hash
	proof := [][32]byte{hashes[2]}
	err := VerifyConsistencyProof(2, 3, root2, root3, proof)
	require.NoError(t, err)
}

func TestConsistencyProofRejectsRollback(t *testing.T) {
	var r1, r2 [32]byte
	r1[0], r2[0] = 1, 2
	err := VerifyConsistencyProof(10, 9, r1, r2, nil)
	require.ErrorIs(t, err, ErrConsistencyRollback)
}

func TestConsistencyProofRejectsSplitView(t *testing.T) {
	var r1, r2 [32]byte
	r1[0], r2[0] = 1, 2
	err := VerifyConsistencyProof(10, 10, r1, r2, nil)
	require.ErrorIs(t, err, ErrConsistencySplitView)
}

func TestSTHVerification(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var root [32]byte
	root[0] = 0x42
	sth := SignedTreeHead{TreeSize: 100, Root: root}
	sth.Signature = ed25519.Sign(priv, sthTranscript(sth.TreeSize, sth.Root))

	require.NoError(t, VerifySTH(sth, pub))

	sth.TreeSize = 101
	require.ErrorIs(t, VerifySTH(sth, pub), ErrSTHSignatureInvalid)
}

func TestGossipWrapUnwrapRoundTrip(t *testing.T) {
	var root [32]byte
	root[0] = 0x7

	wrapped := WrapGossip(42, root, []byte("hello peer"))
	got, err := UnwrapGossip(wrapped)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.TreeSize)
	require.Equal(t, root, got.Root)
	require.Equal(t, []byte("hello peer"), got.Plaintext)
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	var root [32]byte
	root[0] = 0x99
	s := Snapshot{TreeSize: 7, Root: root}
	decoded, err := DecodeSnapshot(EncodeSnapshot(s))
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestClientRollbackLatchesAlertAfterThreshold(t *testing.T) {
	c := NewClient(3)

	var r10 [32]byte
	r10[0] = 10
	require.NoError(t, c.Reconcile(Snapshot{TreeSize: 10, Root: r10}, nil))

	var r9 [32]byte
	r9[0] = 9
	for i := 0; i < 3; i++ {
		err := c.Reconcile(Snapshot{TreeSize: 9, Root: r9}, nil)
		require.ErrorIs(t, err, ErrConsistencyRollback)
	}
	require.True(t, c.AlertLatched())

	c.ResetAlert()
	require.False(t, c.AlertLatched())
}
