package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// Friend is one entry in the local view of the account's friend list,
// as returned by ListFriends and SyncFriends.
type Friend struct {
	Username string
	Blocked  bool
}

// FriendSyncDelta is the incremental result of SyncFriends: everything
// that changed since the caller's last known version.
type FriendSyncDelta struct {
	Version int
	Upserts []Friend
	Removed []string
}

// ListFriends returns the full current friend list.
func (c *Client) ListFriends(ctx context.Context) ([]Friend, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	payload, err := c.request(ctx, wire.FrameTypeListFriends, nil)
	if err != nil {
		return nil, err
	}
	return decodeFriendList(payload)
}

// SyncFriends returns only what changed since version, so a caller
// holding a local cache never has to re-fetch the entire list.
func (c *Client) SyncFriends(ctx context.Context, version int) (FriendSyncDelta, error) {
	if err := c.requireAuthenticated(); err != nil {
		return FriendSyncDelta{}, err
	}
	w := wire.NewWriter(8)
	w.PutU64(uint64(version))
	payload, err := c.request(ctx, wire.FrameTypeSyncFriends, w.Bytes())
	if err != nil {
		return FriendSyncDelta{}, err
	}
	return decodeFriendSyncDelta(payload)
}

// AddFriend adds an already-mutually-agreed friend directly, bypassing
// the request/response flow (e.g. for contacts imported in bulk).
func (c *Client) AddFriend(ctx context.Context, username string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("username", username); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(username))
	w.PutString(username)
	_, err := c.request(ctx, wire.FrameTypeAddFriend, w.Bytes())
	return err
}

// SendFriendRequest sends username a friend request.
func (c *Client) SendFriendRequest(ctx context.Context, username string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("username", username); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(username))
	w.PutString(username)
	_, err := c.request(ctx, wire.FrameTypeSendFriendRequest, w.Bytes())
	return err
}

// RespondFriendRequest accepts or rejects a pending inbound friend
// request from username.
func (c *Client) RespondFriendRequest(ctx context.Context, username string, accept bool) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("username", username); err != nil {
		return err
	}
	w := wire.NewWriter(3 + len(username))
	w.PutString(username)
	w.PutU8(boolToU8(accept))
	_, err := c.request(ctx, wire.FrameTypeRespondFriendRequest, w.Bytes())
	return err
}

// DeleteFriend removes username from the friend list.
func (c *Client) DeleteFriend(ctx context.Context, username string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("username", username); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(username))
	w.PutString(username)
	_, err := c.request(ctx, wire.FrameTypeDeleteFriend, w.Bytes())
	return err
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func decodeFriendList(payload []byte) ([]Friend, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode friend list count: %w", err)
	}
	out := make([]Friend, 0, count)
	for i := uint32(0); i < count; i++ {
		f, err := decodeFriendEntry(r)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode friend entry %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeFriendEntry(r *wire.Reader) (Friend, error) {
	username, err := r.String()
	if err != nil {
		return Friend{}, err
	}
	blocked, err := r.U8()
	if err != nil {
		return Friend{}, err
	}
	return Friend{Username: username, Blocked: blocked != 0}, nil
}

func decodeFriendSyncDelta(payload []byte) (FriendSyncDelta, error) {
	r := wire.NewReader(payload)
	version, err := r.U64()
	if err != nil {
		return FriendSyncDelta{}, fmt.Errorf("orchestrator: decode friend sync version: %w", err)
	}
	upsertCount, err := r.U32()
	if err != nil {
		return FriendSyncDelta{}, fmt.Errorf("orchestrator: decode friend sync upsert count: %w", err)
	}
	delta := FriendSyncDelta{Version: int(version), Upserts: make([]Friend, 0, upsertCount)}
	for i := uint32(0); i < upsertCount; i++ {
		f, err := decodeFriendEntry(r)
		if err != nil {
			return FriendSyncDelta{}, fmt.Errorf("orchestrator: decode friend sync upsert %d: %w", i, err)
		}
		delta.Upserts = append(delta.Upserts, f)
	}
	removedCount, err := r.U32()
	if err != nil {
		return FriendSyncDelta{}, fmt.Errorf("orchestrator: decode friend sync removed count: %w", err)
	}
	delta.Removed = make([]string, 0, removedCount)
	for i := uint32(0); i < removedCount; i++ {
		username, err := r.String()
		if err != nil {
			return FriendSyncDelta{}, fmt.Errorf("orchestrator: decode friend sync removed %d: %w", i, err)
		}
		delta.Removed = append(delta.Removed, username)
	}
	return delta, nil
}
