package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/devicesync"
	"github.com/jaydenbeard/mi-e2ee-core/internal/envelope"
	"github.com/jaydenbeard/mi-e2ee-core/internal/groupratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// GroupNoticeKind classifies a server-issued group membership notice
// surfaced by PollChat.
type GroupNoticeKind uint8

const (
	GroupNoticeJoined GroupNoticeKind = iota + 1
	GroupNoticeLeft
	GroupNoticeKicked
	GroupNoticeRoleChanged
)

// GroupNotice is one membership-change record the relay hands back on
// a poll sweep; receiving one marks the group dirty so the next send
// re-derives the roster and, via the membership-hash check in
// ensureGroupChain, rotates the sender-key chain if it actually changed.
type GroupNotice struct {
	GroupID  string
	Kind     GroupNoticeKind
	Username string
}

// InboundMessage is one decrypted pairwise chat envelope surfaced by a
// poll sweep.
type InboundMessage struct {
	Sender string
	MsgID  envelope.MsgID
	Body   envelope.Body
}

// InboundGroupMessage is one decrypted group chat envelope surfaced by
// a poll sweep.
type InboundGroupMessage struct {
	GroupID string
	Sender  string
	MsgID   envelope.MsgID
	Body    envelope.Body
}

// PrimarySendRequest is a linked device's ask that the primary perform
// a send on its behalf: exactly one of Peer or GroupID is set. Only a
// primary device ever sees one — a linked device's own poll never
// surfaces these, per the primary-only consumption rule.
type PrimarySendRequest struct {
	Peer     string
	GroupID  string
	Envelope []byte
}

// ChatPollResult is everything one PollChat sweep surfaced.
type ChatPollResult struct {
	Messages            []InboundMessage
	GroupMessages        []InboundGroupMessage
	GroupNotices        []GroupNotice
	DeviceSyncEvents    []devicesync.Event
	PrimarySendRequests []PrimarySendRequest
}

// PollChat runs one full sweep of the server-held inbox: it emits
// cover-traffic if due, re-broadcasts any sender-key distribution past
// its resend cooldown, pulls and applies device-sync events (mirroring
// a linked device's send request if this is the primary), pulls and
// decrypts pairwise and group messages, and drains group membership
// notices. Every step best-effort continues past a single bad entry —
// one malformed or undecryptable item never aborts the whole sweep.
func (c *Client) PollChat(ctx context.Context) (ChatPollResult, error) {
	var result ChatPollResult
	if err := c.requireAuthenticated(); err != nil {
		return result, err
	}

	if c.cover.ShouldEmit(nowFunc()) {
		if err := c.Heartbeat(ctx); err != nil {
			c.logger.Printf("cover traffic heartbeat failed: %v", err)
		}
	}

	for _, groupID := range c.groups.OwnedGroups() {
		if err := c.resendDueGroupDistributions(ctx, groupID); err != nil {
			c.logger.Printf("resend sender-key distribution for %q failed: %v", groupID, err)
		}
	}

	payload, err := c.request(ctx, wire.FrameTypePollChat, nil)
	if err != nil {
		return result, err
	}
	inbox, err := decodePollChatResponse(payload)
	if err != nil {
		return result, newErr(KindProtocolInvalid, "decode poll chat response", err)
	}

	for _, cipher := range inbox.deviceSync {
		event, err := c.deviceSync.Open(cipher)
		if err != nil {
			continue
		}
		c.dispatchDeviceSyncEvent(ctx, event, &result)
	}

	for _, msg := range inbox.pairwise {
		c.dispatchPairwiseMessage(ctx, msg, &result)
	}

	for _, msg := range inbox.group {
		c.dispatchGroupMessage(ctx, msg, &result)
	}

	for _, notice := range inbox.notices {
		c.markGroupDirty(notice.GroupID)
		result.GroupNotices = append(result.GroupNotices, notice)
	}

	return result, nil
}

func (c *Client) dispatchDeviceSyncEvent(ctx context.Context, event devicesync.Event, result *ChatPollResult) {
	switch ev := event.(type) {
	case devicesync.SendPrivateEvent:
		if c.isPrimaryDevice {
			result.PrimarySendRequests = append(result.PrimarySendRequests, PrimarySendRequest{Peer: ev.Peer, Envelope: ev.Envelope})
		}
	case devicesync.SendGroupEvent:
		if c.isPrimaryDevice {
			result.PrimarySendRequests = append(result.PrimarySendRequests, PrimarySendRequest{GroupID: ev.GroupID, Envelope: ev.Envelope})
		}
	default:
		result.DeviceSyncEvents = append(result.DeviceSyncEvents, event)
	}
}

func (c *Client) dispatchPairwiseMessage(ctx context.Context, msg pairwiseInboxEntry, result *ChatPollResult) {
	if msg.init != nil {
		if _, err := c.ensureResponderSession(ctx, msg.sender, *msg.init); err != nil {
			c.logger.Printf("establish responder session with %q failed: %v", msg.sender, err)
			return
		}
	}

	c.mu.Lock()
	session, ok := c.peerSessionLocked(msg.sender)
	c.mu.Unlock()
	if !ok {
		c.logger.Printf("pairwise message from %q with no live session, dropped", msg.sender)
		return
	}

	c.mu.Lock()
	plaintext, err := session.Decrypt(msg.header, msg.ciphertext)
	c.mu.Unlock()
	if err != nil {
		c.logger.Printf("decrypt pairwise message from %q failed: %v", msg.sender, err)
		return
	}
	unpadded, err := envelope.Unpad(plaintext)
	if err != nil {
		return
	}
	env, err := envelope.Decode(unpadded)
	if err != nil {
		return
	}
	if !c.dedupe.Record(msg.sender, env.MsgID) {
		return
	}

	switch body := env.Body.(type) {
	case envelope.SenderKeyDist:
		c.applyGroupDistribution(ctx, msg.sender, body)
	case envelope.Ack:
		c.applyGroupDistAck(msg.sender, env.MsgID)
	default:
		result.Messages = append(result.Messages, InboundMessage{Sender: msg.sender, MsgID: env.MsgID, Body: env.Body})
	}
}

// applyGroupDistribution verifies and installs a sender-key
// distribution from sender, fetching their cached identity signing
// key if it has not been seen yet.
func (c *Client) applyGroupDistribution(ctx context.Context, sender string, dist envelope.SenderKeyDist) {
	sigPub, err := c.peerIdentityPub(ctx, sender)
	if err != nil {
		c.logger.Printf("fetch identity key for sender-key distribution from %q failed: %v", sender, err)
		return
	}
	d := groupDistributionFromEnvelope(dist)
	if err := c.groups.ApplyDistribution(d, sigPub, nowFunc()); err != nil {
		c.logger.Printf("apply sender-key distribution from %q for %q failed: %v", sender, dist.GroupID, err)
	}
}

// applyGroupDistAck closes out a pending distribution if msgID matches
// one this client is still waiting on sender to acknowledge.
func (c *Client) applyGroupDistAck(sender string, msgID envelope.MsgID) {
	c.mu.Lock()
	groupID, ok := c.groupDistMsgIDs[msgID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.groups.AckPending(groupID, c.localUsername, sender)
}

func (c *Client) dispatchGroupMessage(ctx context.Context, msg groupInboxEntry, result *ChatPollResult) {
	plaintext, err := c.groups.Open(msg.groupID, string(msg.senderSigPub), msg.version, msg.iteration, msg.ciphertext, groupAssociatedData(msg.groupID, msg.sender))
	if err != nil {
		c.logger.Printf("decrypt group message in %q from %q failed: %v", msg.groupID, msg.sender, err)
		return
	}
	unpadded, err := envelope.Unpad(plaintext)
	if err != nil {
		return
	}
	env, err := envelope.Decode(unpadded)
	if err != nil {
		return
	}
	if !c.dedupe.Record(msg.sender, env.MsgID) {
		return
	}

	switch body := env.Body.(type) {
	case envelope.GroupCallKeyDist:
		c.applyGroupCallKeyDist(ctx, msg.groupID, msg.sender, body)
	case envelope.GroupCallKeyReq:
		c.answerGroupCallKeyReq(ctx, msg.groupID, body)
	default:
		result.GroupMessages = append(result.GroupMessages, InboundGroupMessage{GroupID: msg.groupID, Sender: msg.sender, MsgID: env.MsgID, Body: env.Body})
	}
}

// pairwiseInboxEntry is one decoded (but not yet decrypted) pairwise
// inbox item from a PollChat response.
type pairwiseInboxEntry struct {
	sender     string
	init       *ratchet.SessionInit
	header     ratchet.Header
	ciphertext []byte
}

// groupInboxEntry is one decoded (but not yet decrypted) group inbox
// item from a PollChat response.
type groupInboxEntry struct {
	groupID      string
	sender       string
	senderSigPub []byte
	version      uint32
	iteration    uint32
	ciphertext   []byte
}

type pollChatInbox struct {
	deviceSync [][]byte
	pairwise   []pairwiseInboxEntry
	group      []groupInboxEntry
	notices    []GroupNotice
}

func groupDistributionFromEnvelope(dist envelope.SenderKeyDist) groupratchet.Distribution {
	return groupratchet.Distribution{
		GroupID:   dist.GroupID,
		Version:   dist.Version,
		Iteration: dist.Iter,
		ChainKey:  dist.ChainKey,
		Signature: dist.Sig,
	}
}

func decodePollChatResponse(payload []byte) (pollChatInbox, error) {
	var inbox pollChatInbox
	r := wire.NewReader(payload)

	dsCount, err := r.U32()
	if err != nil {
		return inbox, fmt.Errorf("orchestrator: decode device-sync count: %w", err)
	}
	for i := uint32(0); i < dsCount; i++ {
		blob, err := r.Bytes()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode device-sync blob %d: %w", i, err)
		}
		inbox.deviceSync = append(inbox.deviceSync, blob)
	}

	pwCount, err := r.U32()
	if err != nil {
		return inbox, fmt.Errorf("orchestrator: decode pairwise count: %w", err)
	}
	for i := uint32(0); i < pwCount; i++ {
		sender, err := r.String()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode pairwise sender %d: %w", i, err)
		}
		raw, err := r.Bytes()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode pairwise payload %d: %w", i, err)
		}
		init, hdr, ciphertext, err := decodePairwiseWireMessage(raw)
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode pairwise wire message %d: %w", i, err)
		}
		inbox.pairwise = append(inbox.pairwise, pairwiseInboxEntry{sender: sender, init: init, header: hdr, ciphertext: ciphertext})
	}

	grCount, err := r.U32()
	if err != nil {
		return inbox, fmt.Errorf("orchestrator: decode group count: %w", err)
	}
	for i := uint32(0); i < grCount; i++ {
		groupID, err := r.String()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group id %d: %w", i, err)
		}
		sender, err := r.String()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group sender %d: %w", i, err)
		}
		sigPub, err := r.Bytes()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group sender sig pub %d: %w", i, err)
		}
		version, err := r.U32()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group version %d: %w", i, err)
		}
		iteration, err := r.U32()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group iteration %d: %w", i, err)
		}
		ciphertext, err := r.Bytes()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode group ciphertext %d: %w", i, err)
		}
		inbox.group = append(inbox.group, groupInboxEntry{
			groupID: groupID, sender: sender, senderSigPub: sigPub,
			version: version, iteration: iteration, ciphertext: ciphertext,
		})
	}

	noticeCount, err := r.U32()
	if err != nil {
		return inbox, fmt.Errorf("orchestrator: decode notice count: %w", err)
	}
	for i := uint32(0); i < noticeCount; i++ {
		groupID, err := r.String()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode notice group id %d: %w", i, err)
		}
		kind, err := r.U8()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode notice kind %d: %w", i, err)
		}
		username, err := r.String()
		if err != nil {
			return inbox, fmt.Errorf("orchestrator: decode notice username %d: %w", i, err)
		}
		inbox.notices = append(inbox.notices, GroupNotice{GroupID: groupID, Kind: GroupNoticeKind(kind), Username: username})
	}

	return inbox, nil
}
