// Package wire implements the length-prefixed TLV codec shared by the
// session frame header, the chat envelope, the file-blob header, the
// pairing payloads, and the gossip wrapper. It never dials a socket and
// never touches a ratchet — it only turns bytes into typed fields and
// back.
package wire

import "errors"

// FixedIDSize is the width of a msg_id, call_id, or request_id on the wire.
const FixedIDSize = 16

var (
	// ErrTruncated is returned when a Reader runs out of bytes mid-field.
	ErrTruncated = errors.New("wire: truncated input")
	// ErrTooLarge is returned when a length prefix exceeds a sane upper bound.
	ErrTooLarge = errors.New("wire: length prefix exceeds limit")
	// ErrBadMagic is returned when a fixed magic tag does not match.
	ErrBadMagic = errors.New("wire: magic mismatch")
)

// maxFieldLen bounds any single length-prefixed field read from the
// wire, defending the decoder against a hostile relay advertising a
// multi-gigabyte string/bytes length that would otherwise drive an
// unbounded allocation.
const maxFieldLen = 64 * 1024 * 1024
