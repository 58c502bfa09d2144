// Package recommend turns nearest-neighbour matches into ranked, filtered and
// justified recommendation lists.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/internal/geo"
	"github.com/mcbagz/ladchat/store"
)

const (
	// DefaultLimit is used for user-facing lists when the caller passes no limit.
	DefaultLimit = 10
	// DefaultGroupLimit is used for group event lists when the caller passes no limit.
	DefaultGroupLimit = 5
	// MaxLimit caps every list.
	MaxLimit = 50
	// DefaultEmbedTimeout bounds a synchronous embed on the read path.
	DefaultEmbedTimeout = 10 * time.Second
)

// Recommendation kinds, used in logs and metrics.
const (
	KindFriends     = "friends"
	KindUserEvents  = "user_events"
	KindGroupEvents = "group_events"
)

// DomainReader is the read-only view of the relational store, implemented by *store.Store.
type DomainReader interface {
	GetUser(ctx context.Context, id int32) (*store.User, error)
	GetGroup(ctx context.Context, id int32) (*store.Group, error)
	ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error)
	ListEvents(ctx context.Context, find *store.FindEvent) ([]*store.Event, error)
	ListEventRSVPs(ctx context.Context, find *store.FindEventRSVP) ([]*store.EventRSVP, error)
	ListFriendIDs(ctx context.Context, userID int32) ([]int32, error)
	ListFriendRequests(ctx context.Context, find *store.FindFriendRequest) ([]*store.FriendRequest, error)
	ListGroupIDsForUser(ctx context.Context, userID int32) ([]int32, error)
}

// VectorStore reads embeddings, implemented by *embedstore.Store.
type VectorStore interface {
	Get(ctx context.Context, entityType store.EntityType, entityID int32) (*store.EmbeddingRecord, error)
	QuerySimilar(ctx context.Context, entityType store.EntityType, query []float32, k int, filter *vector.Filter) ([]vector.Match, error)
}

// EntityEmbedder recomputes and stores an entity's embedding, implemented by *embedstore.Indexer.
type EntityEmbedder interface {
	EmbedEntity(ctx context.Context, entityType store.EntityType, entityID int32) ([]float32, error)
}

// Observer records the outcome of each public recommendation call.
type Observer interface {
	ObserveRecommendation(kind string, err error, returned int, d time.Duration)
}

// Service serves friend and event recommendations.
type Service struct {
	reader       DomainReader
	vectors      VectorStore
	embedder     EntityEmbedder
	policy       embedstore.FreshnessPolicy
	embedTimeout time.Duration
	observer     Observer
	now          func() time.Time

	inflight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithFreshnessPolicy overrides the default 24h policy.
func WithFreshnessPolicy(policy embedstore.FreshnessPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithEmbedTimeout bounds the synchronous embed on a miss.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithObserver reports call outcomes.
func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(reader DomainReader, vectors VectorStore, embedder EntityEmbedder, opts ...Option) *Service {
	s := &Service{
		reader:       reader,
		vectors:      vectors,
		embedder:     embedder,
		policy:       embedstore.DefaultFreshnessPolicy(),
		embedTimeout: DefaultEmbedTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveVector returns the entity's embedding, recomputing it when missing or stale.
// Concurrent misses for the same entity share one embed call.
//
// When a stale record exists and the refresh fails, the stale vector is returned
// rather than ErrEmbeddingUnavailable: results may lag the entity's latest content
// until the next successful refresh, but the requester still gets recommendations.
// Only a missing record fails.
func (s *Service) resolveVector(ctx context.Context, entityType store.EntityType, entityID int32) ([]float32, error) {
	record, err := s.vectors.Get(ctx, entityType, entityID)
	if err != nil {
		slog.Warn("failed to read embedding record, recomputing",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		record = nil
	}
	if !s.policy.IsStale(entityType, record, s.now()) && len(record.Embedding) > 0 {
		return record.Embedding, nil
	}

	key := string(entityType) + ":" + strconv.FormatInt(int64(entityID), 10)
	result, err, _ := s.inflight.Do(key, func() (any, error) {
		embedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.embedTimeout)
		defer cancel()
		vec, err := s.embedder.EmbedEntity(embedCtx, entityType, entityID)
		if len(vec) > 0 {
			if err != nil {
				slog.Warn("embedding computed but not stored",
					"entity_type", entityType,
					"entity_id", entityID,
					"error", err,
				)
			}
			return vec, nil
		}
		return nil, err
	})
	if err != nil {
		if errors.Is(err, embedstore.ErrEntityNotFound) {
			return nil, fmt.Errorf("%w: %s %d", ErrDomainEntityGone, entityType, entityID)
		}
		if record != nil && len(record.Embedding) > 0 {
			slog.Warn("refresh failed, using stale embedding",
				"entity_type", entityType,
				"entity_id", entityID,
				"error", err,
			)
			return record.Embedding, nil
		}
		return nil, fmt.Errorf("%w: %s %d: %w", ErrEmbeddingUnavailable, entityType, entityID, err)
	}
	vec, _ := result.([]float32)
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s %d: empty vector", ErrEmbeddingUnavailable, entityType, entityID)
	}
	return vec, nil
}

// RecommendFriends suggests users for userID to befriend. It never fails: any
// internal error is logged and an empty list returned.
func (s *Service) RecommendFriends(ctx context.Context, userID int32, limit int) []*FriendRecommendation {
	start := time.Now()
	results, err := s.recommendFriends(ctx, userID, limit)
	return failSoft(s, KindFriends, "user_id", userID, start, results, err)
}

// RecommendEventsToUser suggests events to userID. coords, when set, is the
// requester's location and enables distances.
func (s *Service) RecommendEventsToUser(ctx context.Context, userID int32, coords *geo.Point, limit int) []*EventRecommendation {
	start := time.Now()
	results, err := s.recommendEventsToUser(ctx, userID, coords, limit)
	return failSoft(s, KindUserEvents, "user_id", userID, start, results, err)
}

// RecommendEventsToGroup suggests public events to a group. Admin checks are the caller's job.
func (s *Service) RecommendEventsToGroup(ctx context.Context, groupID int32, adminCoords *geo.Point, limit int) []*EventRecommendation {
	start := time.Now()
	results, err := s.recommendEventsToGroup(ctx, groupID, adminCoords, limit)
	return failSoft(s, KindGroupEvents, "group_id", groupID, start, results, err)
}

func failSoft[T any](s *Service, kind, idKey string, id int32, start time.Time, results []*T, err error) []*T {
	if s.observer != nil {
		s.observer.ObserveRecommendation(kind, err, len(results), time.Since(start))
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrDomainEntityGone) {
			level = slog.LevelInfo
		}
		slog.Log(context.Background(), level, "recommendation degraded to empty result",
			"kind", kind,
			idKey, id,
			"error", err,
		)
		return []*T{}
	}
	if results == nil {
		return []*T{}
	}
	return results
}
