package ktclient

import (
	"crypto/ed25519"
	"encoding/binary"
)

// SignedTreeHead is a log's attestation of its current state: tree
// size, root, and a signature over a canonical transcript of both
// issued by the log's signing key").
type SignedTreeHead struct {
	TreeSize  uint64
	Root      [32]byte
	Signature []byte
}

// sthTranscript builds the canonical `tree_size ∥ root` bytes an STH
// signs over.
func sthTranscript(treeSize uint64, root [32]byte) []byte {
	buf := make([]byte, 8+32)
	binary.LittleEndian.PutUint64(buf[:8], treeSize)
	copy(buf[8:], root[:])
	return buf
}

// VerifySTH checks an STH's signature against the log's known signing
// public key.
func VerifySTH(sth SignedTreeHead, logSigningPub ed25519.PublicKey) error {
	if !ed25519.Verify(logSigningPub, sthTranscript(sth.TreeSize, sth.Root), sth.Signature) {
		return ErrSTHSignatureInvalid
	}
	return nil
}
