package embedstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcbagz/ladchat/ai"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

// ErrEntityNotFound is returned when the entity to embed does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// Indexer synthesises embedder input for an entity, embeds it and stores the result.
type Indexer struct {
	store     *Store
	embedder  ai.Embedder
	reader    ContentReader
	describer ImageDescriber
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithImageDescriber replaces the embedder as the describer of snap images.
func WithImageDescriber(describer ImageDescriber) IndexerOption {
	return func(i *Indexer) { i.describer = describer }
}

// NewIndexer creates an Indexer.
func NewIndexer(s *Store, embedder ai.Embedder, reader ContentReader, opts ...IndexerOption) *Indexer {
	i := &Indexer{store: s, embedder: embedder, reader: reader, describer: embedder}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Store returns the underlying embedding store.
func (i *Indexer) Store() *Store {
	return i.store
}

// EmbedUser embeds a user's profile. When only the write fails, the vector is
// returned together with the error so request paths can still use it.
func (i *Indexer) EmbedUser(ctx context.Context, user *store.User) ([]float32, error) {
	return i.embed(ctx, store.EntityTypeUser, user.ID, UserProfileText(user), UserMetadata(user))
}

// EmbedGroup embeds a group from its name, description, recent messages and snaps.
func (i *Indexer) EmbedGroup(ctx context.Context, group *store.Group) ([]float32, error) {
	parts, err := groupParts(ctx, i.reader, i.describer, group.ID)
	if err != nil {
		return nil, err
	}
	return i.embed(ctx, store.EntityTypeGroup, group.ID, GroupText(group, parts), GroupMetadata(group))
}

// EmbedEvent embeds an event. Events are embedded once, on creation.
func (i *Indexer) EmbedEvent(ctx context.Context, event *store.Event) ([]float32, error) {
	return i.embed(ctx, store.EntityTypeEvent, event.ID, EventText(event), EventMetadata(event))
}

func (i *Indexer) embed(ctx context.Context, entityType store.EntityType, entityID int32, text string, metadata vector.Metadata) ([]float32, error) {
	embedding, err := i.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %s/%d: %w", entityType, entityID, err)
	}
	if err := i.store.Upsert(ctx, entityType, entityID, embedding, i.embedder.Model(), metadata); err != nil {
		return embedding, err
	}
	return embedding, nil
}

// EmbedEntity loads the entity and embeds it.
func (i *Indexer) EmbedEntity(ctx context.Context, entityType store.EntityType, entityID int32) ([]float32, error) {
	switch entityType {
	case store.EntityTypeUser:
		user, err := i.reader.GetUser(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("%w: user %d", ErrEntityNotFound, entityID)
		}
		return i.EmbedUser(ctx, user)
	case store.EntityTypeGroup:
		group, err := i.reader.GetGroup(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			return nil, fmt.Errorf("%w: group %d", ErrEntityNotFound, entityID)
		}
		return i.EmbedGroup(ctx, group)
	case store.EntityTypeEvent:
		event, err := i.reader.GetEvent(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return nil, fmt.Errorf("%w: event %d", ErrEntityNotFound, entityID)
		}
		return i.EmbedEvent(ctx, event)
	default:
		return nil, entityType.Validate()
	}
}
