package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// EntityType identifies the kind of entity an embedding belongs to.
type EntityType string

const (
	EntityTypeUser  EntityType = "user"
	EntityTypeGroup EntityType = "group"
	EntityTypeEvent EntityType = "event"
)

// EntityTypes lists every entity type that carries an embedding.
var EntityTypes = []EntityType{EntityTypeUser, EntityTypeGroup, EntityTypeEvent}

func (t EntityType) String() string {
	return string(t)
}

// Validate returns an error for an unknown entity type.
func (t EntityType) Validate() error {
	switch t {
	case EntityTypeUser, EntityTypeGroup, EntityTypeEvent:
		return nil
	default:
		return errors.Errorf("invalid entity type: %q", string(t))
	}
}

// EmbeddingRecord is the durable copy of an entity's semantic vector.
// There is at most one record per (EntityType, EntityID).
type EmbeddingRecord struct {
	ID         int32
	EntityType EntityType
	EntityID   int32
	Embedding  []float32
	Model      string
	CreatedTs  int64
	UpdatedTs  int64
}

// FindEmbeddingRecord is the find condition for embedding records.
// Without AfterEntityID, records are listed newest first.
type FindEmbeddingRecord struct {
	EntityType *EntityType
	EntityID   *int32
	// AfterEntityID pages by entity id: only records with a greater entity id are
	// listed, in ascending entity id order.
	AfterEntityID *int32
	Limit         *int
}

// DeleteEmbeddingRecord is the delete condition for an embedding record.
type DeleteEmbeddingRecord struct {
	EntityType EntityType
	EntityID   int32
}

// FindEntitiesNeedingEmbedding finds active entities whose record is missing,
// or, when UpdatedBefore is set, older than that unix timestamp.
type FindEntitiesNeedingEmbedding struct {
	EntityType    EntityType
	UpdatedBefore *int64
	Limit         int
}

// Validate validates the FindEntitiesNeedingEmbedding.
func (f *FindEntitiesNeedingEmbedding) Validate() error {
	if err := f.EntityType.Validate(); err != nil {
		return err
	}
	if f.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", f.Limit)
	}
	if f.Limit == 0 {
		f.Limit = 500
	}
	return nil
}

// UpsertEmbeddingRecord inserts or replaces the record for (EntityType, EntityID).
func (s *Store) UpsertEmbeddingRecord(ctx context.Context, upsert *EmbeddingRecord) (*EmbeddingRecord, error) {
	if err := upsert.EntityType.Validate(); err != nil {
		return nil, err
	}
	if len(upsert.Embedding) == 0 {
		return nil, errors.New("embedding cannot be empty")
	}
	return s.driver.UpsertEmbeddingRecord(ctx, upsert)
}

// GetEmbeddingRecord returns the record for an entity, or nil if none exists.
func (s *Store) GetEmbeddingRecord(ctx context.Context, entityType EntityType, entityID int32) (*EmbeddingRecord, error) {
	list, err := s.driver.ListEmbeddingRecords(ctx, &FindEmbeddingRecord{
		EntityType: &entityType,
		EntityID:   &entityID,
	})
	if err != nil {
		return nil, err
	}
	return pickLatestRecord(list), nil
}

// ListEmbeddingRecords lists embedding records.
func (s *Store) ListEmbeddingRecords(ctx context.Context, find *FindEmbeddingRecord) ([]*EmbeddingRecord, error) {
	return s.driver.ListEmbeddingRecords(ctx, find)
}

// DeleteEmbeddingRecord deletes an embedding record. Deleting a missing record is not an error.
func (s *Store) DeleteEmbeddingRecord(ctx context.Context, delete *DeleteEmbeddingRecord) error {
	return s.driver.DeleteEmbeddingRecord(ctx, delete)
}

// CountEmbeddingRecords counts the records of one entity type.
func (s *Store) CountEmbeddingRecords(ctx context.Context, entityType EntityType) (int64, error) {
	return s.driver.CountEmbeddingRecords(ctx, entityType)
}

// ListEntitiesNeedingEmbedding lists ids of active entities that need a (re)embedding.
func (s *Store) ListEntitiesNeedingEmbedding(ctx context.Context, find *FindEntitiesNeedingEmbedding) ([]int32, error) {
	if err := find.Validate(); err != nil {
		return nil, err
	}
	return s.driver.ListEntitiesNeedingEmbedding(ctx, find)
}

// ListOrphanedEmbeddingRecords lists entity ids whose record outlived an inactive or deleted entity.
func (s *Store) ListOrphanedEmbeddingRecords(ctx context.Context, entityType EntityType) ([]int32, error) {
	if err := entityType.Validate(); err != nil {
		return nil, err
	}
	return s.driver.ListOrphanedEmbeddingRecords(ctx, entityType)
}

// pickLatestRecord resolves a lookup to a single record. More than one row for a key
// breaks the uniqueness invariant; the most recently updated row wins.
func pickLatestRecord(list []*EmbeddingRecord) *EmbeddingRecord {
	if len(list) == 0 {
		return nil
	}
	latest := list[0]
	if len(list) > 1 {
		slog.Error("duplicate embedding records",
			"entity_type", latest.EntityType,
			"entity_id", latest.EntityID,
			"count", len(list),
		)
		for _, record := range list[1:] {
			if record.UpdatedTs > latest.UpdatedTs {
				latest = record
			}
		}
	}
	return latest
}
