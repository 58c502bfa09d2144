// Package embedstore keeps the durable embedding records and the vector index in step.
// The relational store is the source of truth; the index is a rebuildable mirror.
package embedstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

// ErrIndexUnavailable is returned by QuerySimilar when the index cannot serve the query.
var ErrIndexUnavailable = vector.ErrIndexUnavailable

// RecordStore is the durable side, implemented by *store.Store.
type RecordStore interface {
	UpsertEmbeddingRecord(ctx context.Context, upsert *store.EmbeddingRecord) (*store.EmbeddingRecord, error)
	GetEmbeddingRecord(ctx context.Context, entityType store.EntityType, entityID int32) (*store.EmbeddingRecord, error)
	ListEmbeddingRecords(ctx context.Context, find *store.FindEmbeddingRecord) ([]*store.EmbeddingRecord, error)
	DeleteEmbeddingRecord(ctx context.Context, delete *store.DeleteEmbeddingRecord) error
	CountEmbeddingRecords(ctx context.Context, entityType store.EntityType) (int64, error)
}

// Observer is told about index failures that were absorbed instead of returned.
type Observer interface {
	ObserveIndexFailure(op string)
}

// Store writes durable records first and mirrors them into the index.
type Store struct {
	records  RecordStore
	index    vector.Index
	observer Observer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithObserver reports absorbed index failures.
func WithObserver(observer Observer) Option {
	return func(s *Store) { s.observer = observer }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store.
func New(records RecordStore, index vector.Index, opts ...Option) *Store {
	s := &Store{records: records, index: index, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureCollections creates every index collection.
func (s *Store) EnsureCollections(ctx context.Context, dimensions int) error {
	for _, collection := range vector.Collections {
		if err := s.index.EnsureCollection(ctx, collection, dimensions); err != nil {
			return fmt.Errorf("ensure collection %s: %w", collection, err)
		}
	}
	return nil
}

// Upsert stores the embedding for an entity and mirrors it into the index.
// Metadata is validated before any write. An index failure is logged, not returned:
// the durable record is the source of truth and the sweep repairs the mirror.
func (s *Store) Upsert(ctx context.Context, entityType store.EntityType, entityID int32, embedding []float32, model string, metadata vector.Metadata) error {
	collection, err := CollectionFor(entityType)
	if err != nil {
		return err
	}
	if err := metadata.Validate(collection); err != nil {
		return err
	}

	now := s.now().Unix()
	if _, err := s.records.UpsertEmbeddingRecord(ctx, &store.EmbeddingRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Embedding:  embedding,
		Model:      model,
		CreatedTs:  now,
		UpdatedTs:  now,
	}); err != nil {
		return fmt.Errorf("upsert embedding record %s/%d: %w", entityType, entityID, err)
	}

	if err := s.index.Upsert(ctx, collection, &vector.Entry{ID: entityID, Vector: embedding, Metadata: metadata}); err != nil {
		slog.Warn("failed to mirror embedding into index",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		s.observeIndexFailure("upsert")
	}
	return nil
}

// Get returns the durable record, or nil when the entity has none.
func (s *Store) Get(ctx context.Context, entityType store.EntityType, entityID int32) (*store.EmbeddingRecord, error) {
	return s.records.GetEmbeddingRecord(ctx, entityType, entityID)
}

// QuerySimilar returns up to k index matches ordered by ascending distance.
func (s *Store) QuerySimilar(ctx context.Context, entityType store.EntityType, query []float32, k int, filter *vector.Filter) ([]vector.Match, error) {
	collection, err := CollectionFor(entityType)
	if err != nil {
		return nil, err
	}
	matches, err := s.index.Query(ctx, collection, query, k, filter)
	if err != nil {
		s.observeIndexFailure("query")
		if !errors.Is(err, ErrIndexUnavailable) {
			err = fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		}
		return nil, err
	}
	return matches, nil
}

// Delete removes the durable record and then the index entry. Index failures are logged.
func (s *Store) Delete(ctx context.Context, entityType store.EntityType, entityID int32) error {
	collection, err := CollectionFor(entityType)
	if err != nil {
		return err
	}
	if err := s.records.DeleteEmbeddingRecord(ctx, &store.DeleteEmbeddingRecord{EntityType: entityType, EntityID: entityID}); err != nil {
		return fmt.Errorf("delete embedding record %s/%d: %w", entityType, entityID, err)
	}
	if err := s.index.Delete(ctx, collection, entityID); err != nil {
		slog.Warn("failed to delete index entry",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		s.observeIndexFailure("delete")
	}
	return nil
}

// Stats reports the number of index entries per collection.
func (s *Store) Stats(ctx context.Context) (map[vector.Collection]int64, error) {
	stats := make(map[vector.Collection]int64, len(vector.Collections))
	for _, collection := range vector.Collections {
		count, err := s.index.Count(ctx, collection)
		if err != nil {
			s.observeIndexFailure("count")
			return nil, err
		}
		stats[collection] = count
	}
	return stats, nil
}

const reconcilePageSize = 200

// Reconcile brings the index in line with the durable records without calling the
// embedder. Records missing from the index are mirrored and index entries without a
// durable record are removed. Records whose entity is gone are not mirrored.
// Returns the number of entries written.
func (s *Store) Reconcile(ctx context.Context, entityType store.EntityType, source MetadataSource) (int, error) {
	collection, err := CollectionFor(entityType)
	if err != nil {
		return 0, err
	}
	indexedIDs, err := s.index.IDs(ctx, collection)
	if err != nil {
		s.observeIndexFailure("ids")
		return 0, err
	}
	orphans := make(map[int32]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		orphans[id] = struct{}{}
	}

	written := 0
	limit := reconcilePageSize
	after := int32(math.MinInt32)
	for {
		page, err := s.records.ListEmbeddingRecords(ctx, &store.FindEmbeddingRecord{
			EntityType:    &entityType,
			AfterEntityID: &after,
			Limit:         &limit,
		})
		if err != nil {
			return written, fmt.Errorf("list embedding records: %w", err)
		}
		for _, record := range page {
			after = record.EntityID
			if _, ok := orphans[record.EntityID]; ok {
				delete(orphans, record.EntityID)
				continue
			}
			metadata, err := source.Metadata(ctx, entityType, record.EntityID)
			if err != nil {
				return written, fmt.Errorf("metadata for %s/%d: %w", entityType, record.EntityID, err)
			}
			if metadata == nil {
				continue
			}
			entry := &vector.Entry{ID: record.EntityID, Vector: record.Embedding, Metadata: *metadata}
			if err := s.index.Upsert(ctx, collection, entry); err != nil {
				s.observeIndexFailure("upsert")
				return written, err
			}
			written++
		}
		if len(page) < limit {
			break
		}
	}

	removed := 0
	for _, id := range indexedIDs {
		if _, ok := orphans[id]; !ok {
			continue
		}
		if err := s.index.Delete(ctx, collection, id); err != nil {
			s.observeIndexFailure("delete")
			return written, err
		}
		removed++
	}

	if written > 0 || removed > 0 {
		slog.Info("reconciled vector index",
			"entity_type", entityType,
			"written", written,
			"removed", removed,
		)
	}
	return written, nil
}

func (s *Store) observeIndexFailure(op string) {
	if s.observer != nil {
		s.observer.ObserveIndexFailure(op)
	}
}
