package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/envelope"
	"github.com/jaydenbeard/mi-e2ee-core/internal/groupratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// ensureSession returns the live pairwise ratchet session for peer,
// running X3DH against their published pre-key bundle on first contact.
// The returned SessionInit is non-nil only when a session was just
// created; callers must attach it to the first wire message so the
// peer can replay the same X3DH computation.
func (c *Client) ensureSession(ctx context.Context, peer string) (*ratchet.Session, *ratchet.SessionInit, error) {
	c.mu.Lock()
	session, ok := c.peerSessionLocked(peer)
	c.mu.Unlock()
	if ok {
		return session, nil, nil
	}

	bundle, err := c.FetchPreKeyBundle(ctx, peer)
	if err != nil {
		return nil, nil, err
	}
	secret, init, err := ratchet.InitiateSession(c.identity, bundle)
	if err != nil {
		return nil, nil, newErr(KindCryptoPolicy, "initiate x3dh session", err)
	}
	defer corecrypto.Zero(secret[:])

	session, err = ratchet.NewInitiatorSession(c.localUsername, peer, secret, bundle.SignedPreKeyPub)
	if err != nil {
		return nil, nil, newErr(KindCryptoPolicy, "start initiator ratchet session", err)
	}

	c.mu.Lock()
	c.peerTrust.PinPeer(peer, ratchet.FingerprintOf(bundle.IdentitySigPub, bundle.IdentityDHPub))
	c.sessions[peer] = session
	c.mu.Unlock()
	return session, &init, nil
}

// ensureResponderSession completes the responder's side of X3DH from a
// SessionInit carried on an inbound pairwise message, using this
// process's own last-published signed pre-key and KEM key pair. It is
// a no-op if a session for peer already exists — a retransmitted first
// message never re-runs X3DH.
func (c *Client) ensureResponderSession(ctx context.Context, peer string, init ratchet.SessionInit) (*ratchet.Session, error) {
	c.mu.Lock()
	if session, ok := c.peerSessionLocked(peer); ok {
		c.mu.Unlock()
		return session, nil
	}
	c.mu.Unlock()

	spk, kem, ok := c.ownResponderMaterial()
	if !ok {
		return nil, newErr(KindProtocolInvalid, "no published pre-key material to answer session init", nil)
	}
	var otpk *ratchet.OneTimePreKey
	if init.UsedOneTimePreKeyID != nil {
		used, ok := c.takeOwnOneTimePreKey(*init.UsedOneTimePreKeyID)
		if !ok {
			return nil, newErr(KindProtocolInvalid, "one-time pre-key referenced by session init is unknown", nil)
		}
		otpk = &used
	}

	secret, err := ratchet.RespondSession(c.identity, spk, otpk, kem, init)
	if err != nil {
		return nil, newErr(KindCryptoPolicy, "respond to x3dh session init", err)
	}
	defer corecrypto.Zero(secret[:])

	session, err := ratchet.NewResponderSession(c.localUsername, peer, secret, spk.DH)
	if err != nil {
		return nil, newErr(KindCryptoPolicy, "start responder ratchet session", err)
	}

	c.mu.Lock()
	c.sessions[peer] = session
	c.mu.Unlock()

	// Pin the initiator's identity for trust-on-first-use. Best-effort:
	// a failure here leaves the session usable but unpinned rather than
	// dropping the first message the peer ever sent.
	if bundle, err := c.FetchPreKeyBundle(ctx, peer); err == nil {
		c.mu.Lock()
		c.peerTrust.PinPeer(peer, ratchet.FingerprintOf(bundle.IdentitySigPub, bundle.IdentityDHPub))
		c.mu.Unlock()
	}
	return session, nil
}

// encodePairwiseWireMessage frames an (optional) session-init plus the
// ratchet header and envelope ciphertext carried by SendChat/ResendChat
// and surfaced again by PollChat's pairwise inbox.
func encodePairwiseWireMessage(init *ratchet.SessionInit, hdr ratchet.Header, ciphertext []byte) []byte {
	w := wire.NewWriter(128 + len(ciphertext))
	if init != nil {
		w.PutU8(1)
		w.PutRaw(init.InitiatorIdentityDHPub[:])
		w.PutRaw(init.EphemeralPub[:])
		if init.UsedOneTimePreKeyID != nil {
			w.PutU8(1)
			w.PutU32(*init.UsedOneTimePreKeyID)
		} else {
			w.PutU8(0)
		}
		w.PutBytes(init.KEMCiphertext)
	} else {
		w.PutU8(0)
	}
	w.PutRaw(hdr.DHPub[:])
	w.PutU32(hdr.PrevChainLen)
	w.PutU32(hdr.Counter)
	w.PutBytes(ciphertext)
	return w.Bytes()
}

func decodePairwiseWireMessage(payload []byte) (init *ratchet.SessionInit, hdr ratchet.Header, ciphertext []byte, err error) {
	r := wire.NewReader(payload)
	hasInit, err := r.U8()
	if err != nil {
		return nil, hdr, nil, err
	}
	if hasInit != 0 {
		var in ratchet.SessionInit
		idPub, err := r.Raw(32)
		if err != nil {
			return nil, hdr, nil, err
		}
		copy(in.InitiatorIdentityDHPub[:], idPub)
		ephPub, err := r.Raw(32)
		if err != nil {
			return nil, hdr, nil, err
		}
		copy(in.EphemeralPub[:], ephPub)
		hasOTPK, err := r.U8()
		if err != nil {
			return nil, hdr, nil, err
		}
		if hasOTPK != 0 {
			id, err := r.U32()
			if err != nil {
				return nil, hdr, nil, err
			}
			in.UsedOneTimePreKeyID = &id
		}
		kemCT, err := r.Bytes()
		if err != nil {
			return nil, hdr, nil, err
		}
		in.KEMCiphertext = kemCT
		init = &in
	}

	dhPub, err := r.Raw(32)
	if err != nil {
		return nil, hdr, nil, err
	}
	copy(hdr.DHPub[:], dhPub)
	hdr.PrevChainLen, err = r.U32()
	if err != nil {
		return nil, hdr, nil, err
	}
	hdr.Counter, err = r.U32()
	if err != nil {
		return nil, hdr, nil, err
	}
	ciphertext, err = r.Bytes()
	if err != nil {
		return nil, hdr, nil, err
	}
	return init, hdr, ciphertext, nil
}

func newMsgID() (envelope.MsgID, error) {
	var id envelope.MsgID
	if err := corecrypto.RandomFill(id[:]); err != nil {
		return id, fmt.Errorf("orchestrator: generate message id: %w", err)
	}
	return id, nil
}

// sendPairwise seals body inside a padded chat envelope under peer's
// ratchet session and delivers it via SendChat, establishing the
// session first if this is the first contact.
func (c *Client) sendPairwise(ctx context.Context, peer string, id envelope.MsgID, body envelope.Body) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("peer", peer); err != nil {
		return err
	}

	session, init, err := c.ensureSession(ctx, peer)
	if err != nil {
		return err
	}

	plaintext, err := envelope.Pad(envelope.Encode(envelope.Envelope{MsgID: id, Body: body}))
	if err != nil {
		return newErr(KindCryptoPolicy, "pad chat envelope", err)
	}
	c.mu.Lock()
	hdr, ciphertext, err := session.Encrypt(plaintext)
	c.mu.Unlock()
	if err != nil {
		return newErr(KindCryptoPolicy, "encrypt chat envelope", err)
	}

	w := wire.NewWriter(2 + len(peer) + 128 + len(ciphertext))
	w.PutString(peer)
	w.PutRaw(encodePairwiseWireMessage(init, hdr, ciphertext))
	_, err = c.request(ctx, wire.FrameTypeSendChat, w.Bytes())
	return err
}

// SendChatText sends a plain one-to-one text message and returns the
// id assigned, so a later ResendChatText can replay it verbatim.
func (c *Client) SendChatText(ctx context.Context, peer, text string) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	return id, c.sendPairwise(ctx, peer, id, envelope.Text{Text: text})
}

// ResendChatText re-delivers a previously generated message id with
// fresh text over the ratchet's current sending chain; the ratchet
// never replays an old message key, so this is always a new
// ciphertext even though the message id is unchanged.
func (c *Client) ResendChatText(ctx context.Context, peer string, id envelope.MsgID, text string) error {
	return c.sendPairwise(ctx, peer, id, envelope.Text{Text: text})
}

// SendChatFile sends a reference to an attachment already uploaded via
// UploadE2eeFileBlob.
func (c *Client) SendChatFile(ctx context.Context, peer string, file envelope.File) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	return id, c.sendPairwise(ctx, peer, id, file)
}

// SendChatSticker sends a sticker reference.
func (c *Client) SendChatSticker(ctx context.Context, peer, stickerID string) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	return id, c.sendPairwise(ctx, peer, id, envelope.Sticker{StickerID: stickerID})
}

// SendChatRich sends a formatted/quoted/reaction-capable rich message.
func (c *Client) SendChatRich(ctx context.Context, peer string, kind envelope.RichKind, replyTo *envelope.MsgID, payload []byte) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	body := envelope.Rich{Kind: kind, Payload: payload}
	if replyTo != nil {
		body.Flags |= envelope.ReplyFlag
		body.ReplyTo = *replyTo
	}
	return id, c.sendPairwise(ctx, peer, id, body)
}

// SendChatReadReceipt sends peer a read receipt; the receipt carries
// no message id.
func (c *Client) SendChatReadReceipt(ctx context.Context, peer string) error {
	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendPairwise(ctx, peer, id, envelope.ReadReceipt{})
}

// SendChatTyping toggles the typing indicator shown to peer.
func (c *Client) SendChatTyping(ctx context.Context, peer string, on bool) error {
	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendPairwise(ctx, peer, id, envelope.Typing{On: on})
}

// SendChatPresence announces this device's online/offline state to peer.
func (c *Client) SendChatPresence(ctx context.Context, peer string, online bool) error {
	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendPairwise(ctx, peer, id, envelope.Presence{Online: online})
}

// ensureGroupChain makes sure the caller holds a current sender-key
// chain for groupID, rotating and redistributing it to every member when the
// chain is new, membership-dirty, or otherwise due for rotation.
func (c *Client) ensureGroupChain(ctx context.Context, groupID string) error {
	members, err := c.ListGroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username)
	}

	c.mu.Lock()
	delete(c.dirtyGroups, groupID)
	c.mu.Unlock()

	// EnsureOwnChain compares the freshly-fetched roster's membership
	// hash against the chain's stamped one, so a membership change
	// anyone made — including one only just learned about via a group
	// notice — is caught here without needing the dirty flag to force
	// it; dirtyGroups exists purely as a signal the notice-drain path
	// records, not a rotation trigger this path depends on.
	now := nowFunc()
	chain, rotated, err := c.groups.EnsureOwnChain(groupID, c.localUsername, names, now)
	if err != nil {
		return newErr(KindCryptoPolicy, "ensure group sender-key chain", err)
	}
	if !rotated {
		return nil
	}

	dist := groupratchet.SignDistribution(c.identity.Signing, groupID, chain.Version, chain.Iteration, chain.ChainKey)
	for _, member := range names {
		if member == c.localUsername {
			continue
		}
		distID, err := newMsgID()
		if err != nil {
			return err
		}
		body := envelope.SenderKeyDist{GroupID: groupID, Version: dist.Version, Iter: dist.Iteration, ChainKey: dist.ChainKey, Sig: dist.Signature}
		if err := c.sendPairwise(ctx, member, distID, body); err != nil {
			return err
		}
		c.recordGroupDistMsgID(distID, groupID)
	}
	c.groups.TrackPending(groupID, c.localUsername, dist, names, now)
	return nil
}

// recordGroupDistMsgID remembers that distID was sent as a sender-key
// distribution for groupID, so a later Ack envelope carrying the same
// id can be matched back to the pending distribution it closes.
func (c *Client) recordGroupDistMsgID(distID envelope.MsgID, groupID string) {
	c.mu.Lock()
	c.groupDistMsgIDs[distID] = groupID
	c.mu.Unlock()
}

// resendDueGroupDistributions re-broadcasts any outstanding sender-key
// distribution whose cooldown has elapsed and who still has
// unacknowledged members.
func (c *Client) resendDueGroupDistributions(ctx context.Context, groupID string) error {
	now := nowFunc()
	pending, ok := c.groups.PendingFor(groupID, c.localUsername)
	if !ok || !pending.DueForResend(now) {
		return nil
	}
	for member := range pending.Unacknowledged {
		distID, err := newMsgID()
		if err != nil {
			return err
		}
		d := pending.Dist
		body := envelope.SenderKeyDist{GroupID: groupID, Version: d.Version, Iter: d.Iteration, ChainKey: d.ChainKey, Sig: d.Signature}
		if err := c.sendPairwise(ctx, member, distID, body); err != nil {
			return err
		}
		c.recordGroupDistMsgID(distID, groupID)
	}
	pending.MarkResent(now)
	return nil
}

func groupAssociatedData(groupID, sender string) []byte {
	return []byte(groupID + "|" + sender)
}

// sendGroup ensures a current sender-key chain exists for groupID,
// seals body under it, and delivers the sealed message via
// SendGroupChat.
func (c *Client) sendGroup(ctx context.Context, groupID string, id envelope.MsgID, body envelope.Body) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	if err := c.ensureGroupChain(ctx, groupID); err != nil {
		return err
	}

	plaintext, err := envelope.Pad(envelope.Encode(envelope.Envelope{MsgID: id, Body: body}))
	if err != nil {
		return newErr(KindCryptoPolicy, "pad group chat envelope", err)
	}
	version, iteration, ciphertext, err := c.groups.Seal(groupID, plaintext, groupAssociatedData(groupID, c.localUsername))
	if err != nil {
		return newErr(KindCryptoPolicy, "seal group chat envelope", err)
	}

	w := wire.NewWriter(2 + len(groupID) + 8 + len(ciphertext))
	w.PutString(groupID)
	w.PutU32(version)
	w.PutU32(iteration)
	w.PutBytes(ciphertext)
	_, err = c.request(ctx, wire.FrameTypeSendGroupChat, w.Bytes())
	return err
}

// SendGroupChatText sends a group-addressed text message.
func (c *Client) SendGroupChatText(ctx context.Context, groupID, text string) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	return id, c.sendGroup(ctx, groupID, id, envelope.GroupText{GroupID: groupID, Text: text})
}

// SendGroupChatFile sends a group-addressed attachment reference.
func (c *Client) SendGroupChatFile(ctx context.Context, groupID string, file envelope.File) (envelope.MsgID, error) {
	id, err := newMsgID()
	if err != nil {
		return id, err
	}
	return id, c.sendGroup(ctx, groupID, id, envelope.GroupFile{GroupID: groupID, File: file})
}

// SendGroupInvite invites recipient to join groupID over the pairwise
// channel (the invitee is not yet a group member, so this cannot go
// over the group sender-key chain).
func (c *Client) SendGroupInvite(ctx context.Context, recipient, groupID string) error {
	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendPairwise(ctx, recipient, id, envelope.GroupInvite{GroupID: groupID})
}
