// Package attachment implements the file-blob codec (C5): the
// authenticated, optionally compressed, optionally chunked container
// format used for every attachment sent over the relay, plus the
// bookkeeping for a resumable chunked upload or download session.
//
// Two regimes are selected automatically by total plaintext size: a
// single-shot AEAD seal (v1/v2) for anything at or under
// SingleShotThreshold, and a chunked AEAD split (v3/v4) above it. The
// relay only ever sees the resulting opaque, authenticated blob — it
// is not trusted to preserve integrity, so every chunk carries its own
// MAC rather than relying on transport-level checksums.
package attachment

import (
	"errors"
)

// Magic tags every file-blob header: `MIF1`.
var Magic = [4]byte{'M', 'I', 'F', '1'}

// Version selects the blob's encoding: v1/v2 single-shot, v3/v4 chunked.
type Version uint8

const (
	VersionSingleShotRaw     Version = 1
	VersionSingleShotDeflate Version = 2
	VersionChunkedUniform    Version = 3
	VersionChunkedPadded     Version = 4
)

// Algo tags the AEAD scheme used for the blob's ciphertext. Only one
// scheme is defined; the byte exists on the wire so a future cipher
// suite can be introduced without a version bump.
type Algo uint8

const AlgoXChaCha20Poly1305 Algo = 1

const (
	// SingleShotThreshold is the plaintext size at or under which a
	// blob is sealed as a single AEAD record rather than chunked.
	SingleShotThreshold = 8 * 1024 * 1024

	// MaxPlaintextSize bounds the plaintext a caller may encode.
	MaxPlaintextSize = 300 * 1024 * 1024

	// MaxOnWireSize bounds the ciphertext blob this codec will decode,
	// rejecting anything larger before allocating buffers for it.
	MaxOnWireSize = 320 * 1024 * 1024

	// DefaultChunkSize is the uniform chunk size used for v3/v4 blobs.
	// A full v4 chunk plus its 4-byte length prefix pads to the 160 KiB
	// bucket.
	DefaultChunkSize = 128 * 1024

	// NetworkTransferUnit is how large a piece of an already-sealed blob
	// an upload/download session sends per relay round trip. It is
	// independent of DefaultChunkSize — one round trip's wire chunk may
	// span parts of several AEAD chunks or vice versa.
	NetworkTransferUnit = 256 * 1024

	// chunkLengthPrefixSize is the width of the true-length header
	// smuggled inside each decrypted v4 chunk ahead of its padding.
	chunkLengthPrefixSize = 4
)

// PaddingBuckets are the fixed v4 chunk sizes a plaintext chunk is
// padded up to, smallest first.
var PaddingBuckets = []int{
	64 * 1024,
	96 * 1024,
	128 * 1024,
	160 * 1024,
	192 * 1024,
	256 * 1024,
	384 * 1024,
}

var (
	ErrPlaintextTooLarge  = errors.New("attachment: plaintext exceeds maximum size")
	ErrBlobTooLarge       = errors.New("attachment: blob exceeds maximum on-wire size")
	ErrUnsupportedVersion = errors.New("attachment: unsupported blob version")
	ErrUnsupportedAlgo    = errors.New("attachment: unsupported algorithm")
	ErrChunkTooLarge      = errors.New("attachment: plaintext exceeds the single-shot size limit")
	ErrNoBucketFits       = errors.New("attachment: no padding bucket fits chunk")
	ErrSessionSizeMismatch = errors.New("attachment: bytes transferred does not match expected size")
	ErrAuthFailure        = errors.New("attachment: authentication failed")
)

func bucketFor(n int) (int, error) {
	for _, b := range PaddingBuckets {
		if n+chunkLengthPrefixSize <= b {
			return b, nil
		}
	}
	return 0, ErrNoBucketFits
}
