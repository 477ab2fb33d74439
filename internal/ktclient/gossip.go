package ktclient

import (
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// GossipMagic tags every outbound E2EE plaintext wrapped with the
// sender's current key-transparency snapshot: MIKTGSP1 | u64
// tree_size | 32B root | u32 len | bytes plain.
var GossipMagic = "MIKTGSP1"

// WrapGossip prepends a client's current tree snapshot to a plaintext
// payload before it is sealed by the pairwise or group ratchet, so the
// recipient can cross-check its own view of the log on every message.
func WrapGossip(treeSize uint64, root [32]byte, plaintext []byte) []byte {
	w := wire.NewWriter(8 + 8 + 32 + len(plaintext))
	w.PutRaw([]byte(GossipMagic))
	w.PutU64(treeSize)
	w.PutRaw(root[:])
	w.PutBytes(plaintext)
	return w.Bytes()
}

// GossipPayload is one peer's advertised snapshot plus the inner
// plaintext it wrapped.
type GossipPayload struct {
	TreeSize  uint64
	Root      [32]byte
	Plaintext []byte
}

// UnwrapGossip parses a gossip-wrapped payload.
func UnwrapGossip(buf []byte) (GossipPayload, error) {
	r := wire.NewReader(buf)
	if err := r.ExpectMagic(GossipMagic); err != nil {
		return GossipPayload{}, err
	}
	treeSize, err := r.U64()
	if err != nil {
		return GossipPayload{}, err
	}
	rootBytes, err := r.Raw(32)
	if err != nil {
		return GossipPayload{}, err
	}
	plaintext, err := r.Bytes()
	if err != nil {
		return GossipPayload{}, err
	}
	var root [32]byte
	copy(root[:], rootBytes)
	return GossipPayload{TreeSize: treeSize, Root: root, Plaintext: plaintext}, nil
}
