package store

import (
	"context"
	"slices"
	"time"
)

// EventVisibility controls who may see an event.
type EventVisibility string

const (
	VisibilityPublic  EventVisibility = "public"
	VisibilityFriends EventVisibility = "friends"
	VisibilityPrivate EventVisibility = "private"
	VisibilityGroups  EventVisibility = "groups"
)

// RSVPStatus is a user's answer to an event.
type RSVPStatus string

const (
	RSVPYes   RSVPStatus = "yes"
	RSVPMaybe RSVPStatus = "maybe"
	RSVPNo    RSVPStatus = "no"
)

// Event is a real-world meetup. Its content is immutable once created.
type Event struct {
	ID               int32
	CreatorID        int32
	Title            string
	Description      string
	Story            string
	LocationName     string
	Latitude         *float64
	Longitude        *float64
	StartTs          *int64
	EndTs            *int64
	RSVPDeadlineTs   *int64
	ExpiresTs        int64
	Visibility       EventVisibility
	SharedWithGroups []int32
	MaxAttendees     *int32
	AttendeeCount    int32
	IsPremium        bool
	IsActive         bool
	CreatedTs        int64
}

type FindEvent struct {
	ID         *int32
	IDList     []int32
	IsActive   *bool
	Visibility *EventVisibility
}

type EventRSVP struct {
	EventID   int32
	UserID    int32
	Status    RSVPStatus
	CreatedTs int64
}

type FindEventRSVP struct {
	EventID *int32
	UserID  *int32
	Status  *RSVPStatus
}

// EffectiveEnd is the end time when set, otherwise the expiry.
func (e *Event) EffectiveEnd() int64 {
	if e.EndTs != nil {
		return *e.EndTs
	}
	return e.ExpiresTs
}

// IsExpired reports whether the event is over at now.
func (e *Event) IsExpired(now time.Time) bool {
	return now.Unix() > e.EffectiveEnd()
}

// HasCoordinates reports whether both latitude and longitude are set.
func (e *Event) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// VisibleTo reports whether viewerID may see the event given the viewer's friends and groups.
func (e *Event) VisibleTo(viewerID int32, viewerFriendIDs, viewerGroupIDs []int32) bool {
	if e.CreatorID == viewerID {
		return true
	}
	switch e.Visibility {
	case VisibilityPublic, "":
		return true
	case VisibilityFriends:
		return slices.Contains(viewerFriendIDs, e.CreatorID)
	case VisibilityPrivate:
		return false
	case VisibilityGroups:
		for _, groupID := range e.SharedWithGroups {
			if slices.Contains(viewerGroupIDs, groupID) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CanRSVP reports whether userID may still answer the event. existing is the
// user's current RSVP, if any; a full event still accepts users who already answered.
func (e *Event) CanRSVP(existing *EventRSVP, now time.Time) bool {
	if !e.IsActive || e.IsExpired(now) {
		return false
	}
	if e.RSVPDeadlineTs != nil && now.Unix() > *e.RSVPDeadlineTs {
		return false
	}
	if e.MaxAttendees != nil && *e.MaxAttendees > 0 && e.AttendeeCount >= *e.MaxAttendees {
		return existing != nil
	}
	return true
}

func (s *Store) ListEvents(ctx context.Context, find *FindEvent) ([]*Event, error) {
	return s.driver.ListEvents(ctx, find)
}

// GetEvent returns the event with the given id, or nil if it does not exist.
func (s *Store) GetEvent(ctx context.Context, id int32) (*Event, error) {
	list, err := s.driver.ListEvents(ctx, &FindEvent{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListEventRSVPs(ctx context.Context, find *FindEventRSVP) ([]*EventRSVP, error) {
	return s.driver.ListEventRSVPs(ctx, find)
}
