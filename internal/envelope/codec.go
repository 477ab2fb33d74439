package envelope

import "github.com/jaydenbeard/mi-e2ee-core/internal/wire"

// Encode serialises an Envelope to `MICH | ver=1 | type | msg_id[16] | body`.
func Encode(e Envelope) []byte {
	w := wire.NewWriter(64)
	w.PutRaw(Magic[:])
	w.PutU8(Version)
	w.PutU8(uint8(e.Body.Type()))
	w.PutFixedID(e.MsgID[:])
	e.Body.encodeBody(w)
	return w.Bytes()
}

// Decode parses a chat envelope and dispatches to the matching Body
// type in a single runtime type-switch step, keyed by the envelope's
// type byte as a tagged union with one decode site.
func Decode(buf []byte) (Envelope, error) {
	r := wire.NewReader(buf)
	if err := r.ExpectMagic(string(Magic[:])); err != nil {
		return Envelope{}, err
	}
	ver, err := r.U8()
	if err != nil {
		return Envelope{}, err
	}
	if ver != Version {
		return Envelope{}, ErrBadVersion
	}
	typ, err := r.U8()
	if err != nil {
		return Envelope{}, err
	}
	rawID, err := r.FixedID()
	if err != nil {
		return Envelope{}, err
	}
	var id MsgID
	copy(id[:], rawID)

	body, err := decodeBody(Type(typ), r)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{MsgID: id, Body: body}, nil
}

func decodeFile(r *wire.Reader) (File, error) {
	var f File
	var err error
	if f.Size, err = r.U64(); err != nil {
		return File{}, err
	}
	if f.Name, err = r.String(); err != nil {
		return File{}, err
	}
	if f.FileID, err = r.String(); err != nil {
		return File{}, err
	}
	key, err := r.Raw(32)
	if err != nil {
		return File{}, err
	}
	copy(f.Key[:], key)
	return f, nil
}

func decodeBody(typ Type, r *wire.Reader) (Body, error) {
	switch typ {
	case TypeText:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return Text{Text: s}, nil

	case TypeAck:
		return Ack{}, nil

	case TypeFile:
		return decodeFile(r)

	case TypeGroupText:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		return GroupText{GroupID: gid, Text: text}, nil

	case TypeGroupInvite:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		return GroupInvite{GroupID: gid}, nil

	case TypeGroupFile:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		f, err := decodeFile(r)
		if err != nil {
			return nil, err
		}
		return GroupFile{GroupID: gid, File: f}, nil

	case TypeSenderKeyDist:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		version, err := r.U32()
		if err != nil {
			return nil, err
		}
		iter, err := r.U32()
		if err != nil {
			return nil, err
		}
		ck, err := r.Raw(32)
		if err != nil {
			return nil, err
		}
		sig, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var chainKey [32]byte
		copy(chainKey[:], ck)
		return SenderKeyDist{GroupID: gid, Version: version, Iter: iter, ChainKey: chainKey, Sig: sig}, nil

	case TypeSenderKeyReq:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		want, err := r.U32()
		if err != nil {
			return nil, err
		}
		return SenderKeyReq{GroupID: gid, WantVersion: want}, nil

	case TypeRich:
		kind, err := r.U8()
		if err != nil {
			return nil, err
		}
		flags, err := r.U8()
		if err != nil {
			return nil, err
		}
		var replyTo MsgID
		if flags&ReplyFlag != 0 {
			raw, err := r.FixedID()
			if err != nil {
				return nil, err
			}
			copy(replyTo[:], raw)
		}
		payload, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		return Rich{Kind: RichKind(kind), Flags: flags, ReplyTo: replyTo, Payload: payload}, nil

	case TypeReadReceipt:
		return ReadReceipt{}, nil

	case TypeTyping:
		on, err := r.U8()
		if err != nil {
			return nil, err
		}
		return Typing{On: on != 0}, nil

	case TypeSticker:
		id, err := r.String()
		if err != nil {
			return nil, err
		}
		return Sticker{StickerID: id}, nil

	case TypePresence:
		on, err := r.U8()
		if err != nil {
			return nil, err
		}
		return Presence{Online: on != 0}, nil

	case TypeGroupCallKeyDist:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		callID, err := r.Raw(16)
		if err != nil {
			return nil, err
		}
		keyID, err := r.U32()
		if err != nil {
			return nil, err
		}
		key, err := r.Raw(32)
		if err != nil {
			return nil, err
		}
		sig, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var cid [16]byte
		var k [32]byte
		copy(cid[:], callID)
		copy(k[:], key)
		return GroupCallKeyDist{GroupID: gid, CallID: cid, KeyID: keyID, Key: k, Sig: sig}, nil

	case TypeGroupCallKeyReq:
		gid, err := r.String()
		if err != nil {
			return nil, err
		}
		callID, err := r.Raw(16)
		if err != nil {
			return nil, err
		}
		want, err := r.U32()
		if err != nil {
			return nil, err
		}
		var cid [16]byte
		copy(cid[:], callID)
		return GroupCallKeyReq{GroupID: gid, CallID: cid, WantKeyID: want}, nil

	default:
		return nil, ErrUnknownType
	}
}
