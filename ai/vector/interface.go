// Package vector provides the nearest-neighbour index over user, group and event embeddings.
// Every backend reports cosine distance (1 - cosine similarity) so scores are comparable.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// Collection is a named partition of the index, one per entity type.
type Collection string

const (
	CollectionUsers  Collection = "users"
	CollectionGroups Collection = "groups"
	CollectionEvents Collection = "events"
)

// Collections lists every collection the index serves.
var Collections = []Collection{CollectionUsers, CollectionGroups, CollectionEvents}

func (c Collection) Validate() error {
	switch c {
	case CollectionUsers, CollectionGroups, CollectionEvents:
		return nil
	default:
		return fmt.Errorf("unknown collection %q", string(c))
	}
}

// ErrInvalidMetadata is returned when an entry's metadata does not match its collection.
var ErrInvalidMetadata = errors.New("invalid vector metadata")

// Index is a nearest-neighbour index partitioned by collection.
type Index interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection Collection, dimensions int) error

	// Upsert replaces the entry with the same id.
	Upsert(ctx context.Context, collection Collection, entry *Entry) error

	// Query returns up to k matches ordered by ascending distance.
	Query(ctx context.Context, collection Collection, vector []float32, k int, filter *Filter) ([]Match, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, collection Collection, id int32) error

	// Count returns the number of entries in the collection.
	Count(ctx context.Context, collection Collection) (int64, error)

	// IDs returns the ids of every entry in the collection in ascending order.
	IDs(ctx context.Context, collection Collection) ([]int32, error)
}

// Entry is one indexed vector.
type Entry struct {
	ID       int32
	Vector   []float32
	Metadata Metadata
}

// Metadata is a closed tagged union: exactly one variant matching the collection is set.
type Metadata struct {
	User  *UserMetadata  `json:"user,omitempty"`
	Group *GroupMetadata `json:"group,omitempty"`
	Event *EventMetadata `json:"event,omitempty"`
}

type UserMetadata struct {
	Username string `json:"username"`
}

type GroupMetadata struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

type EventMetadata struct {
	CreatorID  int32  `json:"creator_id"`
	Visibility string `json:"visibility"`
	IsPremium  bool   `json:"is_premium"`
}

// Validate checks that exactly the variant for collection is set.
func (m Metadata) Validate(collection Collection) error {
	set := 0
	if m.User != nil {
		set++
	}
	if m.Group != nil {
		set++
	}
	if m.Event != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one variant, got %d", ErrInvalidMetadata, set)
	}

	switch collection {
	case CollectionUsers:
		if m.User == nil {
			return fmt.Errorf("%w: users collection requires user metadata", ErrInvalidMetadata)
		}
	case CollectionGroups:
		if m.Group == nil {
			return fmt.Errorf("%w: groups collection requires group metadata", ErrInvalidMetadata)
		}
	case CollectionEvents:
		if m.Event == nil {
			return fmt.Errorf("%w: events collection requires event metadata", ErrInvalidMetadata)
		}
	default:
		return collection.Validate()
	}
	return nil
}

// Visibility returns the event visibility, or "" for non-event metadata.
func (m Metadata) Visibility() string {
	if m.Event == nil {
		return ""
	}
	return m.Event.Visibility
}

// Filter narrows a query. The zero value matches everything.
type Filter struct {
	// ExcludeIDs are never returned.
	ExcludeIDs []int32
	// Visibility, when set, requires event metadata with this visibility.
	Visibility string
}

func (f *Filter) excludes(id int32) bool {
	if f == nil {
		return false
	}
	for _, excluded := range f.ExcludeIDs {
		if excluded == id {
			return true
		}
	}
	return false
}

func (f *Filter) matches(entry *Entry) bool {
	if f == nil {
		return true
	}
	if f.excludes(entry.ID) {
		return false
	}
	if f.Visibility != "" && entry.Metadata.Visibility() != f.Visibility {
		return false
	}
	return true
}

// Match is a query hit.
type Match struct {
	ID       int32
	Distance float32
}

func validateEntry(collection Collection, entry *Entry) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	if entry == nil || len(entry.Vector) == 0 {
		return errors.New("entry vector cannot be empty")
	}
	return entry.Metadata.Validate(collection)
}
