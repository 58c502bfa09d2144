package store

import (
	"context"
)

// User is the slice of a LadChat account the recommender reads.
type User struct {
	ID              int32
	Username        string
	Bio             string
	Interests       []string
	ProfilePhotoURL string
	OpenToFriends   bool
	IsActive        bool
	IsVerified      bool
	CreatedTs       int64
	UpdatedTs       int64
}

type FindUser struct {
	ID       *int32
	IDList   []int32
	IsActive *bool
}

func (s *Store) ListUsers(ctx context.Context, find *FindUser) ([]*User, error) {
	return s.driver.ListUsers(ctx, find)
}

// GetUser returns the user with the given id, or nil if it does not exist.
func (s *Store) GetUser(ctx context.Context, id int32) (*User, error) {
	list, err := s.driver.ListUsers(ctx, &FindUser{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
