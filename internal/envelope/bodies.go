package envelope

import "github.com/jaydenbeard/mi-e2ee-core/internal/wire"

// Text is a plain one-to-one message.
type Text struct{ Text string }

func (Text) Type() Type                    { return TypeText }
func (b Text) encodeBody(w *wire.Writer)   { w.PutString(b.Text) }

// Ack acknowledges receipt of a prior envelope; it carries no body.
type Ack struct{}

func (Ack) Type() Type                  { return TypeAck }
func (Ack) encodeBody(w *wire.Writer)   {}

// File references an out-of-band attachment already pushed via the
// attachment codec (C5); Key unlocks its AEAD, out of band from the
// relay that merely stores ciphertext.
type File struct {
	Size   uint64
	Name   string
	FileID string
	Key    [32]byte
}

func (File) Type() Type { return TypeFile }
func (b File) encodeBody(w *wire.Writer) {
	w.PutU64(b.Size)
	w.PutString(b.Name)
	w.PutString(b.FileID)
	w.PutRaw(b.Key[:])
}

// GroupText is a group-addressed plain message, sealed under the
// sender's current group sender-key (C8).
type GroupText struct {
	GroupID string
	Text    string
}

func (GroupText) Type() Type { return TypeGroupText }
func (b GroupText) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	w.PutString(b.Text)
}

// GroupInvite invites the recipient to join a group.
type GroupInvite struct{ GroupID string }

func (GroupInvite) Type() Type                  { return TypeGroupInvite }
func (b GroupInvite) encodeBody(w *wire.Writer) { w.PutString(b.GroupID) }

// GroupFile is a group-addressed file reference.
type GroupFile struct {
	GroupID string
	File    File
}

func (GroupFile) Type() Type { return TypeGroupFile }
func (b GroupFile) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	b.File.encodeBody(w)
}

// SenderKeyDist distributes a fresh or rotated group sender-key chain
// to a member, signed by the sender's long-term signing key.
type SenderKeyDist struct {
	GroupID string
	Version uint32
	Iter    uint32
	ChainKey [32]byte
	Sig     []byte
}

func (SenderKeyDist) Type() Type { return TypeSenderKeyDist }
func (b SenderKeyDist) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	w.PutU32(b.Version)
	w.PutU32(b.Iter)
	w.PutRaw(b.ChainKey[:])
	w.PutBytes(b.Sig)
}

// SenderKeyReq asks the holder of a sender-key chain to re-distribute it.
type SenderKeyReq struct {
	GroupID     string
	WantVersion uint32
}

func (SenderKeyReq) Type() Type { return TypeSenderKeyReq }
func (b SenderKeyReq) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	w.PutU32(b.WantVersion)
}

// RichKind distinguishes the rich-message sub-variants carried by Rich.
type RichKind uint8

// ReplyFlag marks that a Rich message carries a quoted-reply msg id.
const ReplyFlag uint8 = 1 << 0

// Rich is a catch-all formatted/quoted/reaction-capable message whose
// exact sub-shape is selected by Kind; Payload carries the kind-specific
// payload bytes already encoded by the caller, since the full rich
// taxonomy is an orchestrator-level concern, not a wire concern.
type Rich struct {
	Kind    RichKind
	Flags   uint8
	ReplyTo MsgID
	Payload []byte
}

func (Rich) Type() Type { return TypeRich }
func (b Rich) encodeBody(w *wire.Writer) {
	w.PutU8(uint8(b.Kind))
	w.PutU8(b.Flags)
	if b.Flags&ReplyFlag != 0 {
		w.PutRaw(b.ReplyTo[:])
	}
	w.PutBytes(b.Payload)
}

// ReadReceipt acknowledges that a message has been read; no body.
type ReadReceipt struct{}

func (ReadReceipt) Type() Type                  { return TypeReadReceipt }
func (ReadReceipt) encodeBody(w *wire.Writer)   {}

// Typing carries a typing-indicator on/off flag.
type Typing struct{ On bool }

func (Typing) Type() Type { return TypeTyping }
func (b Typing) encodeBody(w *wire.Writer) {
	if b.On {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

// Sticker references a sticker pack asset by id.
type Sticker struct{ StickerID string }

func (Sticker) Type() Type                     { return TypeSticker }
func (b Sticker) encodeBody(w *wire.Writer)    { w.PutString(b.StickerID) }

// Presence carries an online/offline flag.
type Presence struct{ Online bool }

func (Presence) Type() Type { return TypePresence }
func (b Presence) encodeBody(w *wire.Writer) {
	if b.Online {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

// GroupCallKeyDist distributes a fresh group-call media key.
type GroupCallKeyDist struct {
	GroupID string
	CallID  [16]byte
	KeyID   uint32
	Key     [32]byte
	Sig     []byte
}

func (GroupCallKeyDist) Type() Type { return TypeGroupCallKeyDist }
func (b GroupCallKeyDist) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	w.PutRaw(b.CallID[:])
	w.PutU32(b.KeyID)
	w.PutRaw(b.Key[:])
	w.PutBytes(b.Sig)
}

// GroupCallKeyReq asks for the current group-call media key.
type GroupCallKeyReq struct {
	GroupID    string
	CallID     [16]byte
	WantKeyID  uint32
}

func (GroupCallKeyReq) Type() Type { return TypeGroupCallKeyReq }
func (b GroupCallKeyReq) encodeBody(w *wire.Writer) {
	w.PutString(b.GroupID)
	w.PutRaw(b.CallID[:])
	w.PutU32(b.WantKeyID)
}
