package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/envelope"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// groupCallKeys holds every media key generation this device knows for
// one group call, plus which one is current.
type groupCallKeys struct {
	keys    map[uint32][32]byte
	current uint32
}

func callKeyID(groupID string, callID [16]byte) string {
	return fmt.Sprintf("%s|%x", groupID, callID)
}

func (c *Client) callKeyStore(groupID string, callID [16]byte) *groupCallKeys {
	key := callKeyID(groupID, callID)
	store, ok := c.groupCalls[key]
	if !ok {
		store = &groupCallKeys{keys: make(map[uint32][32]byte)}
		c.groupCalls[key] = store
	}
	return store
}

// CurrentGroupCallKey returns this device's current media key for a
// group call, if it holds one yet.
func (c *Client) CurrentGroupCallKey(groupID string, callID [16]byte) (keyID uint32, key [32]byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	store, have := c.groupCalls[callKeyID(groupID, callID)]
	if !have || len(store.keys) == 0 {
		return 0, key, false
	}
	return store.current, store.keys[store.current], true
}

// distributeGroupCallKey seals and sends a fresh media key to every
// current member over the group's sender-key chain.
func (c *Client) distributeGroupCallKey(ctx context.Context, groupID string, callID [16]byte, keyID uint32, key [32]byte) error {
	dist := envelope.GroupCallKeyDist{
		GroupID: groupID,
		CallID:  callID,
		KeyID:   keyID,
		Key:     key,
	}
	dist.Sig = corecrypto.Sign(c.identity.Signing.Private, groupCallKeyDistSignedMessage(dist))
	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendGroup(ctx, groupID, id, dist)
}

func groupCallKeyDistSignedMessage(d envelope.GroupCallKeyDist) []byte {
	w := wire.NewWriter(64)
	w.PutString(d.GroupID)
	w.PutRaw(d.CallID[:])
	w.PutU32(d.KeyID)
	w.PutRaw(d.Key[:])
	return w.Bytes()
}

// applyGroupCallKeyDist verifies and installs a media key distributed
// by another member, replacing any key held under the same id; current
// moves only forward to a higher key id.
func (c *Client) applyGroupCallKeyDist(ctx context.Context, groupID, sender string, dist envelope.GroupCallKeyDist) {
	sigPub, err := c.peerIdentityPub(ctx, sender)
	if err != nil {
		c.logger.Printf("fetch identity key for group-call key distribution from %q failed: %v", sender, err)
		return
	}
	if !corecrypto.Verify(sigPub, groupCallKeyDistSignedMessage(dist), dist.Sig) {
		c.logger.Printf("group-call key distribution from %q failed signature check", sender)
		return
	}
	c.mu.Lock()
	store := c.callKeyStore(groupID, dist.CallID)
	store.keys[dist.KeyID] = dist.Key
	if dist.KeyID > store.current {
		store.current = dist.KeyID
	}
	c.mu.Unlock()
}

// answerGroupCallKeyReq replies with this device's current key for a
// call if it holds one at least as new as the requester wants.
func (c *Client) answerGroupCallKeyReq(ctx context.Context, groupID string, req envelope.GroupCallKeyReq) {
	keyID, key, ok := c.CurrentGroupCallKey(groupID, req.CallID)
	if !ok || keyID < req.WantKeyID {
		return
	}
	if err := c.distributeGroupCallKey(ctx, groupID, req.CallID, keyID, key); err != nil {
		c.logger.Printf("answer group-call key request for %q failed: %v", groupID, err)
	}
}

func newCallID() ([16]byte, error) {
	var id [16]byte
	if err := corecrypto.RandomFill(id[:]); err != nil {
		return id, fmt.Errorf("orchestrator: generate call id: %w", err)
	}
	return id, nil
}

func newGroupCallKey() (uint32, [32]byte, error) {
	var key [32]byte
	if err := corecrypto.RandomFill(key[:]); err != nil {
		return 0, key, fmt.Errorf("orchestrator: generate group call key: %w", err)
	}
	return 1, key, nil
}

// StartGroupCall registers a new call for groupID with the relay and
// distributes the first media key generation to every current member.
func (c *Client) StartGroupCall(ctx context.Context, groupID string) (callID [16]byte, err error) {
	if err := c.requireAuthenticated(); err != nil {
		return callID, err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return callID, err
	}

	callID, err = newCallID()
	if err != nil {
		return callID, err
	}
	keyID, key, err := newGroupCallKey()
	if err != nil {
		return callID, err
	}

	w := wire.NewWriter(2 + len(groupID) + 16)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	if _, err := c.request(ctx, wire.FrameTypeStartGroupCall, w.Bytes()); err != nil {
		return callID, err
	}

	c.mu.Lock()
	store := c.callKeyStore(groupID, callID)
	store.keys[keyID] = key
	store.current = keyID
	c.mu.Unlock()

	if err := c.distributeGroupCallKey(ctx, groupID, callID, keyID, key); err != nil {
		return callID, err
	}
	return callID, nil
}

// JoinGroupCall registers this device as a participant in an
// in-progress call and, if no media key is held yet, asks current
// members for the latest one.
func (c *Client) JoinGroupCall(ctx context.Context, groupID string, callID [16]byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}

	w := wire.NewWriter(2 + len(groupID) + 16)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	if _, err := c.request(ctx, wire.FrameTypeJoinGroupCall, w.Bytes()); err != nil {
		return err
	}

	if _, _, ok := c.CurrentGroupCallKey(groupID, callID); ok {
		return nil
	}
	return c.RequestGroupCallKey(ctx, groupID, callID, 0)
}

// LeaveGroupCall withdraws this device from a call's participant list.
func (c *Client) LeaveGroupCall(ctx context.Context, groupID string, callID [16]byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(groupID) + 16)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	_, err := c.request(ctx, wire.FrameTypeLeaveGroupCall, w.Bytes())
	return err
}

// RotateGroupCallKey generates and distributes a fresh media key
// generation for an in-progress call, e.g. after a member leaves.
func (c *Client) RotateGroupCallKey(ctx context.Context, groupID string, callID [16]byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}

	c.mu.Lock()
	store := c.callKeyStore(groupID, callID)
	nextKeyID := store.current + 1
	c.mu.Unlock()

	var key [32]byte
	if err := corecrypto.RandomFill(key[:]); err != nil {
		return newErr(KindCryptoPolicy, "generate rotated group call key", err)
	}

	w := wire.NewWriter(2 + len(groupID) + 16 + 4)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	w.PutU32(nextKeyID)
	if _, err := c.request(ctx, wire.FrameTypeRotateGroupCallKey, w.Bytes()); err != nil {
		return err
	}

	c.mu.Lock()
	store.keys[nextKeyID] = key
	store.current = nextKeyID
	c.mu.Unlock()

	return c.distributeGroupCallKey(ctx, groupID, callID, nextKeyID, key)
}

// RequestGroupCallKey asks the relay to prompt current members to
// redistribute a call's media key and broadcasts the same request over
// the group's sender-key chain so any member already holding it can
// answer directly.
func (c *Client) RequestGroupCallKey(ctx context.Context, groupID string, callID [16]byte, wantKeyID uint32) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}

	w := wire.NewWriter(2 + len(groupID) + 16 + 4)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	w.PutU32(wantKeyID)
	if _, err := c.request(ctx, wire.FrameTypeRequestGroupCallKey, w.Bytes()); err != nil {
		return err
	}

	id, err := newMsgID()
	if err != nil {
		return err
	}
	return c.sendGroup(ctx, groupID, id, envelope.GroupCallKeyReq{GroupID: groupID, CallID: callID, WantKeyID: wantKeyID})
}

// GroupCallEventKind classifies one entry returned by PullGroupCallEvents.
type GroupCallEventKind uint8

const (
	GroupCallEventJoined GroupCallEventKind = iota + 1
	GroupCallEventLeft
	GroupCallEventEnded
)

// GroupCallEvent is one participant-lifecycle record for a call.
type GroupCallEvent struct {
	CallID   [16]byte
	Kind     GroupCallEventKind
	Username string
}

// PullGroupCallEvents retrieves participant join/leave/end events for
// groupID's calls since the last pull.
func (c *Client) PullGroupCallEvents(ctx context.Context, groupID string) ([]GroupCallEvent, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	w := wire.NewWriter(2 + len(groupID))
	w.PutString(groupID)
	payload, err := c.request(ctx, wire.FrameTypePullGroupCallEvents, w.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeGroupCallEvents(payload)
}

func decodeGroupCallEvents(payload []byte) ([]GroupCallEvent, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode group call event count: %w", err)
	}
	events := make([]GroupCallEvent, 0, count)
	for i := uint32(0); i < count; i++ {
		var callID [16]byte
		raw, err := r.Raw(16)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode group call event %d call id: %w", i, err)
		}
		copy(callID[:], raw)
		kind, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode group call event %d kind: %w", i, err)
		}
		username, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode group call event %d username: %w", i, err)
		}
		events = append(events, GroupCallEvent{CallID: callID, Kind: GroupCallEventKind(kind), Username: username})
	}
	return events, nil
}

// PushMedia relays an already-sealed media frame (e.g. one packet of
// encrypted audio/video) to peer outside the chat envelope pipeline —
// media frames are latency-sensitive and are never padded or deduped
// the way a chat message is.
func (c *Client) PushMedia(ctx context.Context, peer string, sealedFrame []byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(peer) + 4 + len(sealedFrame))
	w.PutString(peer)
	w.PutBytes(sealedFrame)
	_, err := c.request(ctx, wire.FrameTypePushMedia, w.Bytes())
	return err
}

// PullMedia retrieves any sealed pairwise media frames queued for this
// device since the last pull.
func (c *Client) PullMedia(ctx context.Context) ([][]byte, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	payload, err := c.request(ctx, wire.FrameTypePullMedia, nil)
	if err != nil {
		return nil, err
	}
	return decodeFrameList(payload)
}

// PushGroupMedia relays an already-sealed media frame to every member
// of a group call.
func (c *Client) PushGroupMedia(ctx context.Context, groupID string, callID [16]byte, sealedFrame []byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(groupID) + 16 + 4 + len(sealedFrame))
	w.PutString(groupID)
	w.PutRaw(callID[:])
	w.PutBytes(sealedFrame)
	_, err := c.request(ctx, wire.FrameTypePushGroupMedia, w.Bytes())
	return err
}

// PullGroupMedia retrieves sealed group-call media frames queued for
// this device since the last pull.
func (c *Client) PullGroupMedia(ctx context.Context, groupID string, callID [16]byte) ([][]byte, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	w := wire.NewWriter(2 + len(groupID) + 16)
	w.PutString(groupID)
	w.PutRaw(callID[:])
	payload, err := c.request(ctx, wire.FrameTypePullGroupMedia, w.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeFrameList(payload)
}

func decodeFrameList(payload []byte) ([][]byte, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode media frame count: %w", err)
	}
	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		frame, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode media frame %d: %w", i, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
