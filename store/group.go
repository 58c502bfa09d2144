package store

import (
	"context"
	"slices"
)

type Group struct {
	ID             int32
	CreatorID      int32
	Name           string
	Description    string
	Members        []int32
	Admins         []int32
	GroupInterests []string
	IsActive       bool
	CreatedTs      int64
	UpdatedTs      int64
}

// MemberCount returns the number of members in the group.
func (g *Group) MemberCount() int {
	return len(g.Members)
}

func (g *Group) IsMember(userID int32) bool {
	return slices.Contains(g.Members, userID)
}

// IsAdmin reports whether userID administers the group. The creator is always an admin.
func (g *Group) IsAdmin(userID int32) bool {
	return g.CreatorID == userID || slices.Contains(g.Admins, userID)
}

type FindGroup struct {
	ID       *int32
	MemberID *int32
	IsActive *bool
}

// GroupMessage is a chat message posted to a group.
type GroupMessage struct {
	ID          int32
	GroupID     int32
	SenderID    int32
	Content     string
	MessageType string
	IsDeleted   bool
	CreatedTs   int64
}

// FindGroupMessage lists the most recent messages first.
type FindGroupMessage struct {
	GroupID        int32
	MessageType    *string
	IncludeDeleted bool
	Limit          int
}

// Snap is an ephemeral photo or video shared with groups.
type Snap struct {
	ID        int32
	SenderID  int32
	Caption   string
	MediaURL  string
	MediaType string
	GroupIDs  []int32
	CreatedTs int64
}

// FindSnap lists the most recent snaps first.
type FindSnap struct {
	GroupID *int32
	Limit   int
}

func (s *Store) ListGroups(ctx context.Context, find *FindGroup) ([]*Group, error) {
	return s.driver.ListGroups(ctx, find)
}

// GetGroup returns the group with the given id, or nil if it does not exist.
func (s *Store) GetGroup(ctx context.Context, id int32) (*Group, error) {
	list, err := s.driver.ListGroups(ctx, &FindGroup{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListGroupIDsForUser returns the ids of active groups the user belongs to.
func (s *Store) ListGroupIDsForUser(ctx context.Context, userID int32) ([]int32, error) {
	active := true
	groups, err := s.driver.ListGroups(ctx, &FindGroup{MemberID: &userID, IsActive: &active})
	if err != nil {
		return nil, err
	}
	ids := make([]int32, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.ID)
	}
	return ids, nil
}

func (s *Store) ListGroupMessages(ctx context.Context, find *FindGroupMessage) ([]*GroupMessage, error) {
	return s.driver.ListGroupMessages(ctx, find)
}

func (s *Store) ListSnaps(ctx context.Context, find *FindSnap) ([]*Snap, error) {
	return s.driver.ListSnaps(ctx, find)
}
