// Package envelope implements the typed inner plaintext carried inside
// every pairwise and group ratchet message, its
// length-hiding padding, inbound de-duplication, and the cover-traffic
// scheduler that decouples observed send rate from user activity.
//
// Every concrete chat payload (Text, Ack, File, GroupText, …) is
// modeled as a Go struct implementing Body; Encode/Decode perform the
// single runtime type-dispatch step the rest of the system relies on,
// so per-type handling elsewhere in the orchestrator is a plain type
// switch over the decoded Envelope.Body.
package envelope

import (
	"errors"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// Magic identifies a chat envelope: `MICH`.
var Magic = [4]byte{'M', 'I', 'C', 'H'}

// Version is the only chat-envelope version this codec understands.
const Version = 1

// Type tags the envelope body, one byte each.
type Type uint8

const (
	TypeText Type = iota + 1
	TypeAck
	TypeFile
	TypeGroupText
	TypeGroupInvite
	TypeGroupFile
	TypeSenderKeyDist
	TypeSenderKeyReq
	TypeRich
	TypeReadReceipt
	TypeTyping
	TypeSticker
	TypePresence
	TypeGroupCallKeyDist
	TypeGroupCallKeyReq
)

var (
	// ErrUnknownType is returned decoding an envelope whose type byte
	// has no registered Body.
	ErrUnknownType = errors.New("envelope: unknown type")
	// ErrBadVersion is returned decoding an envelope with an unsupported version byte.
	ErrBadVersion = errors.New("envelope: unsupported version")
)

// MsgID is a 16-byte message identifier, unique per (sender, envelope).
type MsgID [16]byte

// Envelope is a fully decoded chat-envelope: a typed body plus the
// message id used for de-duplication and acknowledgement.
type Envelope struct {
	MsgID MsgID
	Body  Body
}

// Body is implemented by every concrete envelope payload.
type Body interface {
	Type() Type
	encodeBody(w *wire.Writer)
}
