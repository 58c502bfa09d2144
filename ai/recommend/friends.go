package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

func (s *Service) recommendFriends(ctx context.Context, userID int32, limit int) ([]*FriendRecommendation, error) {
	limit = normalizeLimit(limit, DefaultLimit)

	user, err := s.reader.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: user %d", ErrDomainEntityGone, userID)
	}
	if !user.OpenToFriends {
		return nil, nil
	}

	query, err := s.resolveVector(ctx, store.EntityTypeUser, userID)
	if err != nil {
		return nil, err
	}

	friendIDs, err := s.reader.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends of %d: %w", userID, err)
	}
	excluded, err := s.friendExclusions(ctx, userID, friendIDs)
	if err != nil {
		return nil, err
	}

	filter := &vector.Filter{ExcludeIDs: idList(excluded)}
	candidates, err := retrieve(ctx, s.vectors, store.EntityTypeUser, query, limit, filter,
		func(ctx context.Context, matches []vector.Match) ([]Candidate[*store.User], error) {
			return s.validateUsers(ctx, matches, excluded)
		})
	if err != nil {
		return nil, err
	}

	friends := idSet(friendIDs)
	results := make([]*FriendRecommendation, 0, limit)
	for _, candidate := range rank(candidates, limit) {
		other := candidate.Entity
		results = append(results, &FriendRecommendation{
			UserID:             other.ID,
			Username:           other.Username,
			Bio:                other.Bio,
			Interests:          other.Interests,
			ProfilePhotoURL:    other.ProfilePhotoURL,
			IsVerified:         other.IsVerified,
			SimilarityScore:    candidate.SimilarityScore,
			MutualFriendsCount: s.mutualFriends(ctx, other.ID, friends),
			Reason:             friendReason(user, other),
		})
	}
	return results, nil
}

// friendExclusions is friends, self and anyone with a pending or declined request in either direction.
func (s *Service) friendExclusions(ctx context.Context, userID int32, friendIDs []int32) (map[int32]struct{}, error) {
	excluded := idSet(friendIDs)
	excluded[userID] = struct{}{}

	requests, err := s.reader.ListFriendRequests(ctx, &store.FindFriendRequest{
		UserID:     &userID,
		StatusList: []store.FriendRequestStatus{store.FriendRequestPending, store.FriendRequestDeclined},
	})
	if err != nil {
		return nil, fmt.Errorf("list friend requests of %d: %w", userID, err)
	}
	for _, request := range requests {
		excluded[request.Counterpart(userID)] = struct{}{}
	}
	return excluded, nil
}

func (s *Service) validateUsers(ctx context.Context, matches []vector.Match, excluded map[int32]struct{}) ([]Candidate[*store.User], error) {
	distances := make(map[int32]float32, len(matches))
	ids := make([]int32, 0, len(matches))
	for _, match := range matches {
		if _, ok := excluded[match.ID]; ok {
			continue
		}
		distances[match.ID] = match.Distance
		ids = append(ids, match.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	active := true
	users, err := s.reader.ListUsers(ctx, &store.FindUser{IDList: ids, IsActive: &active})
	if err != nil {
		return nil, fmt.Errorf("load candidate users: %w", err)
	}
	found := make(map[int32]struct{}, len(users))
	candidates := make([]Candidate[*store.User], 0, len(users))
	for _, user := range users {
		found[user.ID] = struct{}{}
		if !user.IsActive || !user.OpenToFriends {
			continue
		}
		candidates = append(candidates, Candidate[*store.User]{
			EntityID:    user.ID,
			RawDistance: distances[user.ID],
			Entity:      user,
		})
	}
	logGone(store.EntityTypeUser, ids, found)
	return candidates, nil
}

// mutualFriends counts the candidate's friends that are also the requester's.
// A lookup failure counts as zero.
func (s *Service) mutualFriends(ctx context.Context, candidateID int32, friends map[int32]struct{}) int {
	if len(friends) == 0 {
		return 0
	}
	theirs, err := s.reader.ListFriendIDs(ctx, candidateID)
	if err != nil {
		slog.Warn("failed to count mutual friends", "user_id", candidateID, "error", err)
		return 0
	}
	count := 0
	for _, id := range theirs {
		if _, ok := friends[id]; ok {
			count++
		}
	}
	return count
}

func idSet(ids []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func idList(set map[int32]struct{}) []int32 {
	ids := make([]int32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// logGone notes index matches the relational store no longer returns.
func logGone(entityType store.EntityType, ids []int32, found map[int32]struct{}) {
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			slog.Debug("dropping candidate missing from domain store",
				"entity_type", entityType,
				"entity_id", id,
			)
		}
	}
}
