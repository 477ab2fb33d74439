package ktclient

import "github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"

// leafHashPrefix and nodeHashPrefix implement the RFC 6962 domain
// separation between a tree's leaf hashes and its interior-node
// hashes, preventing a second-preimage attack that would otherwise let
// an attacker pass off an interior hash as a leaf or vice versa.
const (
	leafHashPrefix = 0x00
	nodeHashPrefix = 0x01
)

// LeafHash hashes one committed entry's canonical bytes into its leaf
// hash.
func LeafHash(data []byte) [32]byte {
	return corecrypto.SHA256([]byte{leafHashPrefix}, data)
}

func hashChildren(left, right [32]byte) [32]byte {
	return corecrypto.SHA256([]byte{nodeHashPrefix}, left[:], right[:])
}

// largestPowerOfTwoLessThan returns the largest power of two strictly
// less than n, the split point the tree's recursive hash definition
// uses at every level.
func largestPowerOfTwoLessThan(n uint64) uint64 {
	k := uint64(1)
	for k*2 < n {
		k *= 2
	}
	return k
}

// RootFromInclusionProof replays an audit path to reconstruct the root
// a leaf's inclusion proof claims, walking the same left/right split
// the log used to build the tree, tie-breaking left on `m < k`.
func RootFromInclusionProof(leafHash [32]byte, leafIndex, treeSize uint64, path [][32]byte) [32]byte {
	return reconstructSubtreeRoot(leafIndex, treeSize, leafHash, path)
}

func reconstructSubtreeRoot(index, size uint64, leafHash [32]byte, path [][32]byte) [32]byte {
	if size == 1 {
		return leafHash
	}
	k := largestPowerOfTwoLessThan(size)
	sibling := path[len(path)-1]
	rest := path[:len(path)-1]
	if index < k {
		left := reconstructSubtreeRoot(index, k, leafHash, rest)
		return hashChildren(left, sibling)
	}
	right := reconstructSubtreeRoot(index-k, size-k, leafHash, rest)
	return hashChildren(sibling, right)
}

// VerifyInclusionProof reports whether an audit path for leafHash at
// leafIndex in a tree of size treeSize reconstructs committedRoot.
func VerifyInclusionProof(leafHash [32]byte, leafIndex, treeSize uint64, path [][32]byte, committedRoot [32]byte) error {
	if leafIndex >= treeSize {
		return ErrInclusionProofFailed
	}
	if RootFromInclusionProof(leafHash, leafIndex, treeSize, path) != committedRoot {
		return ErrInclusionProofFailed
	}
	return nil
}

// VerifyConsistencyProof checks that a tree known to have root1 at
// size1 is a true prefix of the tree with root2 at size2, given the
// consistency-proof nodes the log returned. Rejects
// rollback (size2 < size1) and split-views (equal sizes, differing
// roots) explicitly.
func VerifyConsistencyProof(size1, size2 uint64, root1, root2 [32]byte, proof [][32]byte) error {
	if size2 < size1 {
		return ErrConsistencyRollback
	}
	if size1 == size2 {
		if root1 != root2 {
			return ErrConsistencySplitView
		}
		return nil
	}
	if size1 == 0 {
		return nil
	}

	node := size1 - 1
	lastNode := size2 - 1
	for node%2 == 1 {
		node >>= 1
		lastNode >>= 1
	}

	var newHash, oldHash [32]byte
	if node > 0 {
		if len(proof) == 0 {
			return ErrConsistencyProofFailed
		}
		newHash = proof[0]
		oldHash = proof[0]
		proof = proof[1:]
	} else {
		newHash = root1
		oldHash = root1
	}

	for _, sibling := range proof {
		if lastNode == 0 {
			return ErrConsistencyProofFailed
		}
		if node%2 == 1 || node == lastNode {
			oldHash = hashChildren(sibling, oldHash)
			newHash = hashChildren(sibling, newHash)
		} else {
			newHash = hashChildren(newHash, sibling)
		}
		node >>= 1
		lastNode >>= 1
	}

	if newHash != root2 || oldHash != root1 {
		return ErrConsistencyProofFailed
	}
	return nil
}
