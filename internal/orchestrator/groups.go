package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// GroupMemberRole is a member's standing within a group, coarse enough
// to gate membership-changing operations without the server needing to
// understand chat semantics.
type GroupMemberRole uint8

const (
	GroupMemberRoleMember GroupMemberRole = iota
	GroupMemberRoleAdmin
	GroupMemberRoleOwner
)

// GroupMember is one entry in a group's roster.
type GroupMember struct {
	Username string
	Role     GroupMemberRole
}

// CreateGroup creates a new group owned by the caller with the given
// initial members (the caller is always included as owner).
func (c *Client) CreateGroup(ctx context.Context, groupID string, members []string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(groupID) + 4)
	w.PutString(groupID)
	w.PutU32(uint32(len(members)))
	for _, m := range members {
		w.PutString(m)
	}
	_, err := c.request(ctx, wire.FrameTypeCreateGroup, w.Bytes())
	if err != nil {
		return err
	}
	c.markGroupDirty(groupID)
	return nil
}

// JoinGroup joins an existing group by id, marking its sender-key
// state dirty so the next send re-derives membership before sealing.
func (c *Client) JoinGroup(ctx context.Context, groupID string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(groupID))
	w.PutString(groupID)
	_, err := c.request(ctx, wire.FrameTypeJoinGroup, w.Bytes())
	if err != nil {
		return err
	}
	c.markGroupDirty(groupID)
	return nil
}

// LeaveGroup asks the server to remove the caller from a group. It
// does not discard the local sender-key state held for that group.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	w := wire.NewWriter(2 + len(groupID))
	w.PutString(groupID)
	_, err := c.request(ctx, wire.FrameTypeLeaveGroup, w.Bytes())
	return err
}

// ListGroupMembers returns the full current roster of groupID.
func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return nil, err
	}
	w := wire.NewWriter(2 + len(groupID))
	w.PutString(groupID)
	payload, err := c.request(ctx, wire.FrameTypeListGroupMembers, w.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeGroupMembers(payload)
}

// SetGroupMemberRole changes member's role within groupID. Only an
// owner or admin may promote or demote another member; the server
// enforces this and returns KindServer on refusal.
func (c *Client) SetGroupMemberRole(ctx context.Context, groupID, member string, role GroupMemberRole) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	if err := validateNonEmpty("member", member); err != nil {
		return err
	}
	w := wire.NewWriter(4 + len(groupID) + len(member) + 1)
	w.PutString(groupID)
	w.PutString(member)
	w.PutU8(uint8(role))
	_, err := c.request(ctx, wire.FrameTypeSetGroupMemberRole, w.Bytes())
	if err != nil {
		return err
	}
	c.markGroupDirty(groupID)
	return nil
}

// KickGroupMember removes member from groupID and marks the group's
// sender-key state dirty on this client; this client's next send
// re-fetches the roster and rotates its own sender key if membership
// changed. Other members rotate only when they observe the change
// themselves.
func (c *Client) KickGroupMember(ctx context.Context, groupID, member string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if err := validateNonEmpty("group id", groupID); err != nil {
		return err
	}
	if err := validateNonEmpty("member", member); err != nil {
		return err
	}
	w := wire.NewWriter(4 + len(groupID) + len(member))
	w.PutString(groupID)
	w.PutString(member)
	_, err := c.request(ctx, wire.FrameTypeKickGroupMember, w.Bytes())
	if err != nil {
		return err
	}
	c.markGroupDirty(groupID)
	return nil
}

// markGroupDirty records that groupID's membership changed, so the
// next group send re-derives and redistributes a fresh sender key
// instead of reusing one that may still be readable by a removed
// member.
func (c *Client) markGroupDirty(groupID string) {
	c.mu.Lock()
	if c.dirtyGroups == nil {
		c.dirtyGroups = make(map[string]bool)
	}
	c.dirtyGroups[groupID] = true
	c.mu.Unlock()
}

func decodeGroupMembers(payload []byte) ([]GroupMember, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode group member count: %w", err)
	}
	out := make([]GroupMember, 0, count)
	for i := uint32(0); i < count; i++ {
		username, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode group member %d username: %w", i, err)
		}
		role, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode group member %d role: %w", i, err)
		}
		out = append(out, GroupMember{Username: username, Role: GroupMemberRole(role)})
	}
	return out, nil
}
