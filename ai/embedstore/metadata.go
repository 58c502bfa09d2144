package embedstore

import (
	"context"
	"fmt"

	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

// CollectionFor maps an entity type to its index collection.
func CollectionFor(entityType store.EntityType) (vector.Collection, error) {
	switch entityType {
	case store.EntityTypeUser:
		return vector.CollectionUsers, nil
	case store.EntityTypeGroup:
		return vector.CollectionGroups, nil
	case store.EntityTypeEvent:
		return vector.CollectionEvents, nil
	default:
		return "", fmt.Errorf("no collection for entity type %q", entityType)
	}
}

func UserMetadata(user *store.User) vector.Metadata {
	return vector.Metadata{User: &vector.UserMetadata{Username: user.Username}}
}

func GroupMetadata(group *store.Group) vector.Metadata {
	return vector.Metadata{Group: &vector.GroupMetadata{Name: group.Name, MemberCount: group.MemberCount()}}
}

func EventMetadata(event *store.Event) vector.Metadata {
	visibility := event.Visibility
	if visibility == "" {
		visibility = store.VisibilityPublic
	}
	return vector.Metadata{Event: &vector.EventMetadata{
		CreatorID:  event.CreatorID,
		Visibility: string(visibility),
		IsPremium:  event.IsPremium,
	}}
}

// MetadataSource resolves the index metadata of a live entity.
// A nil result means the entity no longer exists.
type MetadataSource interface {
	Metadata(ctx context.Context, entityType store.EntityType, entityID int32) (*vector.Metadata, error)
}

// DomainReader is the slice of the relational store the metadata source reads.
type DomainReader interface {
	GetUser(ctx context.Context, id int32) (*store.User, error)
	GetGroup(ctx context.Context, id int32) (*store.Group, error)
	GetEvent(ctx context.Context, id int32) (*store.Event, error)
}

type domainMetadataSource struct {
	reader DomainReader
}

// NewMetadataSource builds metadata from live domain rows.
func NewMetadataSource(reader DomainReader) MetadataSource {
	return &domainMetadataSource{reader: reader}
}

func (s *domainMetadataSource) Metadata(ctx context.Context, entityType store.EntityType, entityID int32) (*vector.Metadata, error) {
	var metadata vector.Metadata
	switch entityType {
	case store.EntityTypeUser:
		user, err := s.reader.GetUser(ctx, entityID)
		if err != nil || user == nil {
			return nil, err
		}
		metadata = UserMetadata(user)
	case store.EntityTypeGroup:
		group, err := s.reader.GetGroup(ctx, entityID)
		if err != nil || group == nil {
			return nil, err
		}
		metadata = GroupMetadata(group)
	case store.EntityTypeEvent:
		event, err := s.reader.GetEvent(ctx, entityID)
		if err != nil || event == nil {
			return nil, err
		}
		metadata = EventMetadata(event)
	default:
		return nil, entityType.Validate()
	}
	return &metadata, nil
}
