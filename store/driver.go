package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error
	ListMigrationHistory(ctx context.Context) ([]string, error)

	// EmbeddingRecord model related methods.
	UpsertEmbeddingRecord(ctx context.Context, upsert *EmbeddingRecord) (*EmbeddingRecord, error)
	ListEmbeddingRecords(ctx context.Context, find *FindEmbeddingRecord) ([]*EmbeddingRecord, error)
	DeleteEmbeddingRecord(ctx context.Context, delete *DeleteEmbeddingRecord) error
	CountEmbeddingRecords(ctx context.Context, entityType EntityType) (int64, error)
	ListEntitiesNeedingEmbedding(ctx context.Context, find *FindEntitiesNeedingEmbedding) ([]int32, error)
	ListOrphanedEmbeddingRecords(ctx context.Context, entityType EntityType) ([]int32, error)

	// User model related methods.
	ListUsers(ctx context.Context, find *FindUser) ([]*User, error)

	// Friendship model related methods.
	ListFriendIDs(ctx context.Context, userID int32) ([]int32, error)
	ListFriendRequests(ctx context.Context, find *FindFriendRequest) ([]*FriendRequest, error)

	// Group model related methods.
	ListGroups(ctx context.Context, find *FindGroup) ([]*Group, error)
	ListGroupMessages(ctx context.Context, find *FindGroupMessage) ([]*GroupMessage, error)
	ListSnaps(ctx context.Context, find *FindSnap) ([]*Snap, error)

	// Event model related methods.
	ListEvents(ctx context.Context, find *FindEvent) ([]*Event, error)
	ListEventRSVPs(ctx context.Context, find *FindEventRSVP) ([]*EventRSVP, error)
}
