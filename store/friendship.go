package store

import (
	"context"
)

// FriendRequestStatus is the state of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestDeclined  FriendRequestStatus = "declined"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

// Friendship is an undirected edge stored with User1ID < User2ID.
type Friendship struct {
	User1ID   int32
	User2ID   int32
	CreatedTs int64
}

type FriendRequest struct {
	ID          int32
	SenderID    int32
	RecipientID int32
	Status      FriendRequestStatus
	CreatedTs   int64
}

// FindFriendRequest matches requests sent or received by UserID.
type FindFriendRequest struct {
	UserID     *int32
	StatusList []FriendRequestStatus
}

// ListFriendIDs returns the ids of the user's friends.
func (s *Store) ListFriendIDs(ctx context.Context, userID int32) ([]int32, error) {
	return s.driver.ListFriendIDs(ctx, userID)
}

func (s *Store) ListFriendRequests(ctx context.Context, find *FindFriendRequest) ([]*FriendRequest, error) {
	return s.driver.ListFriendRequests(ctx, find)
}

// Counterpart returns the other party of the request relative to userID.
func (r *FriendRequest) Counterpart(userID int32) int32 {
	if r.SenderID == userID {
		return r.RecipientID
	}
	return r.SenderID
}
