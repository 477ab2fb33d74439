package devicesync

import "github.com/jaydenbeard/mi-e2ee-core/internal/wire"

// EventMagic tags the inner device-sync event plaintext, sealed inside
// the MISY AEAD envelope. original_source leaves this inner shape to
// the caller (EncryptDeviceSync only defines the outer envelope), so
// this union is modeled on internal/envelope's Body pattern: one byte
// tag, one decode site per type.
var EventMagic = [4]byte{'M', 'I', 'S', 'E'}

const EventVersion uint8 = 1

// EventType tags a device-sync event body.
type EventType uint8

const (
	EventTypeRotateKey EventType = iota + 1
	EventTypeMessage
	EventTypeDelivery
	EventTypeGroupNotice
	EventTypeHistorySnapshot
	EventTypeSendPrivate
	EventTypeSendGroup
)

// Event is implemented by every concrete device-sync event body.
type Event interface {
	Type() EventType
	encodeBody(w *wire.Writer)
}

// RotateKeyEvent carries the replacement device-sync key, sealed under
// the key it replaces so every sibling can learn it before the old key
// is discarded.
type RotateKeyEvent struct {
	NewKey Key
}

func (RotateKeyEvent) Type() EventType { return EventTypeRotateKey }
func (e RotateKeyEvent) encodeBody(w *wire.Writer) {
	w.PutRaw(e.NewKey[:])
}

// MessageEvent mirrors a pairwise chat send to every sibling device,
// either as an outgoing echo (this device sent it) or an incoming
// mirror (another device received it first).
type MessageEvent struct {
	Peer     string
	MsgID    [16]byte
	Outgoing bool
	Body     []byte
}

func (MessageEvent) Type() EventType { return EventTypeMessage }
func (e MessageEvent) encodeBody(w *wire.Writer) {
	w.PutString(e.Peer)
	w.PutFixedID(e.MsgID[:])
	w.PutU8(boolByte(e.Outgoing))
	w.PutBytes(e.Body)
}

// DeliveryEvent mirrors a delivered/read receipt to sibling devices so
// every device's chat list reflects the same read state.
type DeliveryEvent struct {
	Peer  string
	MsgID [16]byte
	Read  bool
}

func (DeliveryEvent) Type() EventType { return EventTypeDelivery }
func (e DeliveryEvent) encodeBody(w *wire.Writer) {
	w.PutString(e.Peer)
	w.PutFixedID(e.MsgID[:])
	w.PutU8(boolByte(e.Read))
}

// GroupNoticeEvent mirrors a group-membership or metadata change
// (invite, member added/removed, sender-key rotation) to siblings.
type GroupNoticeEvent struct {
	GroupID string
	Notice  []byte
}

func (GroupNoticeEvent) Type() EventType { return EventTypeGroupNotice }
func (e GroupNoticeEvent) encodeBody(w *wire.Writer) {
	w.PutString(e.GroupID)
	w.PutBytes(e.Notice)
}

// HistoryEntry is one row of a bounded recent-history window sent to a
// newly linked device.
type HistoryEntry struct {
	Peer      string
	MsgID     [16]byte
	Outgoing  bool
	Body      []byte
	Timestamp int64
}

// HistorySnapshotEvent is sent by the primary to a newly linked device
// once, covering a bounded recent window rather than full history.
type HistorySnapshotEvent struct {
	Entries []HistoryEntry
}

func (HistorySnapshotEvent) Type() EventType { return EventTypeHistorySnapshot }
func (e HistorySnapshotEvent) encodeBody(w *wire.Writer) {
	w.PutU32(uint32(len(e.Entries)))
	for _, entry := range e.Entries {
		w.PutString(entry.Peer)
		w.PutFixedID(entry.MsgID[:])
		w.PutU8(boolByte(entry.Outgoing))
		w.PutBytes(entry.Body)
		w.PutU64(uint64(entry.Timestamp))
	}
}

// SendPrivateEvent asks every sibling to treat a pairwise send as if
// it had originated locally (e.g. for an outbox retry after a device
// comes back online).
type SendPrivateEvent struct {
	Peer     string
	Envelope []byte
}

func (SendPrivateEvent) Type() EventType { return EventTypeSendPrivate }
func (e SendPrivateEvent) encodeBody(w *wire.Writer) {
	w.PutString(e.Peer)
	w.PutBytes(e.Envelope)
}

// SendGroupEvent is the group-chat analogue of SendPrivateEvent.
type SendGroupEvent struct {
	GroupID  string
	Envelope []byte
}

func (SendGroupEvent) Type() EventType { return EventTypeSendGroup }
func (e SendGroupEvent) encodeBody(w *wire.Writer) {
	w.PutString(e.GroupID)
	w.PutBytes(e.Envelope)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// EncodeEvent serialises an Event to `MISE | ver=1 | type | body`.
func EncodeEvent(e Event) []byte {
	w := wire.NewWriter(64)
	w.PutRaw(EventMagic[:])
	w.PutU8(EventVersion)
	w.PutU8(uint8(e.Type()))
	e.encodeBody(w)
	return w.Bytes()
}

// DecodeEvent parses a device-sync event plaintext, dispatching on its
// type byte to the matching Event in a single type switch.
func DecodeEvent(buf []byte) (Event, error) {
	r := wire.NewReader(buf)
	if err := r.ExpectMagic(string(EventMagic[:])); err != nil {
		return nil, err
	}
	ver, err := r.U8()
	if err != nil {
		return nil, err
	}
	if ver != EventVersion {
		return nil, ErrAuthFailure
	}
	typ, err := r.U8()
	if err != nil {
		return nil, err
	}
	return decodeEventBody(EventType(typ), r)
}

func decodeEventBody(typ EventType, r *wire.Reader) (Event, error) {
	switch typ {
	case EventTypeRotateKey:
		keyBytes, err := r.Raw(32)
		if err != nil {
			return nil, err
		}
		var k Key
		copy(k[:], keyBytes)
		return RotateKeyEvent{NewKey: k}, nil

	case EventTypeMessage:
		peer, err := r.String()
		if err != nil {
			return nil, err
		}
		id, err := r.FixedID()
		if err != nil {
			return nil, err
		}
		outgoing, err := r.U8()
		if err != nil {
			return nil, err
		}
		body, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var msgID [16]byte
		copy(msgID[:], id)
		return MessageEvent{Peer: peer, MsgID: msgID, Outgoing: outgoing != 0, Body: body}, nil

	case EventTypeDelivery:
		peer, err := r.String()
		if err != nil {
			return nil, err
		}
		id, err := r.FixedID()
		if err != nil {
			return nil, err
		}
		read, err := r.U8()
		if err != nil {
			return nil, err
		}
		var msgID [16]byte
		copy(msgID[:], id)
		return DeliveryEvent{Peer: peer, MsgID: msgID, Read: read != 0}, nil

	case EventTypeGroupNotice:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		notice, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		return GroupNoticeEvent{GroupID: gid, Notice: notice}, nil

	case EventTypeHistorySnapshot:
		count, err := r.U32()
		if err != nil {
			return nil, err
		}
		entries := make([]HistoryEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			peer, err := r.String()
			if err != nil {
				return nil, err
			}
			id, err := r.FixedID()
			if err != nil {
				return nil, err
			}
			outgoing, err := r.U8()
			if err != nil {
				return nil, err
			}
			body, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			ts, err := r.U64()
			if err != nil {
				return nil, err
			}
			var msgID [16]byte
			copy(msgID[:], id)
			entries = append(entries, HistoryEntry{
				Peer:      peer,
				MsgID:     msgID,
				Outgoing:  outgoing != 0,
				Body:      body,
				Timestamp: int64(ts),
			})
		}
		return HistorySnapshotEvent{Entries: entries}, nil

	case EventTypeSendPrivate:
		peer, err := r.String()
		if err != nil {
			return nil, err
		}
		env, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		return SendPrivateEvent{Peer: peer, Envelope: env}, nil

	case EventTypeSendGroup:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		env, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		return SendGroupEvent{GroupID: gid, Envelope: env}, nil

	default:
		return nil, ErrUnknownEventType
	}
}
