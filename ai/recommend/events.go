package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/internal/geo"
	"github.com/mcbagz/ladchat/store"
)

// eventViewer is who an event list is built for.
type eventViewer struct {
	userID    int32
	friends   map[int32]struct{}
	friendIDs []int32
	groupIDs  []int32
	rsvps     map[int32]*store.EventRSVP
	declined  map[int32]struct{}
	// publicOnly restricts candidates to public events (group lists).
	publicOnly bool
}

// admits reports whether the viewer may be shown event at now.
func (v *eventViewer) admits(event *store.Event, now time.Time) bool {
	if !event.IsActive || event.IsExpired(now) {
		return false
	}
	if _, ok := v.declined[event.ID]; ok {
		return false
	}
	if v.publicOnly {
		if event.Visibility != store.VisibilityPublic && event.Visibility != "" {
			return false
		}
	} else if !event.VisibleTo(v.userID, v.friendIDs, v.groupIDs) {
		return false
	}
	return event.CanRSVP(v.rsvps[event.ID], now)
}

func (s *Service) recommendEventsToUser(ctx context.Context, userID int32, coords *geo.Point, limit int) ([]*EventRecommendation, error) {
	limit = normalizeLimit(limit, DefaultLimit)

	user, err := s.reader.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: user %d", ErrDomainEntityGone, userID)
	}

	query, err := s.resolveVector(ctx, store.EntityTypeUser, userID)
	if err != nil {
		return nil, err
	}

	viewer, err := s.loadViewer(ctx, userID)
	if err != nil {
		return nil, err
	}

	filter := &vector.Filter{ExcludeIDs: idList(viewer.declined)}
	return s.recommendEvents(ctx, query, viewer, filter, coords, limit, false)
}

func (s *Service) recommendEventsToGroup(ctx context.Context, groupID int32, adminCoords *geo.Point, limit int) ([]*EventRecommendation, error) {
	limit = normalizeLimit(limit, DefaultGroupLimit)

	group, err := s.reader.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", groupID, err)
	}
	if group == nil || !group.IsActive {
		return nil, fmt.Errorf("%w: group %d", ErrDomainEntityGone, groupID)
	}

	query, err := s.resolveVector(ctx, store.EntityTypeGroup, groupID)
	if err != nil {
		return nil, err
	}

	viewer := &eventViewer{publicOnly: true}
	filter := &vector.Filter{Visibility: string(store.VisibilityPublic)}
	return s.recommendEvents(ctx, query, viewer, filter, adminCoords, limit, true)
}

// loadViewer gathers the user's friends, groups and RSVPs for visibility checks.
func (s *Service) loadViewer(ctx context.Context, userID int32) (*eventViewer, error) {
	friendIDs, err := s.reader.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends of %d: %w", userID, err)
	}
	groupIDs, err := s.reader.ListGroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups of %d: %w", userID, err)
	}
	rsvps, err := s.reader.ListEventRSVPs(ctx, &store.FindEventRSVP{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("list rsvps of %d: %w", userID, err)
	}

	viewer := &eventViewer{
		userID:    userID,
		friends:   idSet(friendIDs),
		friendIDs: friendIDs,
		groupIDs:  groupIDs,
		rsvps:     make(map[int32]*store.EventRSVP, len(rsvps)),
		declined:  make(map[int32]struct{}),
	}
	for _, rsvp := range rsvps {
		viewer.rsvps[rsvp.EventID] = rsvp
		if rsvp.Status == store.RSVPNo {
			viewer.declined[rsvp.EventID] = struct{}{}
		}
	}
	return viewer, nil
}

func (s *Service) recommendEvents(ctx context.Context, query []float32, viewer *eventViewer, filter *vector.Filter, coords *geo.Point, limit int, forGroup bool) ([]*EventRecommendation, error) {
	now := s.now()
	candidates, err := retrieve(ctx, s.vectors, store.EntityTypeEvent, query, limit, filter,
		func(ctx context.Context, matches []vector.Match) ([]Candidate[*store.Event], error) {
			return s.validateEvents(ctx, matches, viewer, now)
		})
	if err != nil {
		return nil, err
	}

	results := make([]*EventRecommendation, 0, limit)
	for _, candidate := range rank(candidates, limit) {
		event := candidate.Entity
		recommendation := &EventRecommendation{
			EventID:         event.ID,
			Title:           event.Title,
			Description:     event.Description,
			LocationName:    event.LocationName,
			Latitude:        event.Latitude,
			Longitude:       event.Longitude,
			StartTs:         event.StartTs,
			EndTs:           event.EndTs,
			AttendeeCount:   event.AttendeeCount,
			IsPremium:       event.IsPremium,
			SimilarityScore: candidate.SimilarityScore,
			CanRSVP:         true,
			Reason:          eventReason(event, forGroup),
		}
		if _, ok := viewer.friends[event.CreatorID]; ok {
			recommendation.CreatorIsFriend = true
		}
		if coords != nil && event.HasCoordinates() {
			miles := geo.DistanceMiles(*coords, geo.Point{Latitude: *event.Latitude, Longitude: *event.Longitude})
			recommendation.DistanceMiles = &miles
		}
		results = append(results, recommendation)
	}
	return results, nil
}

func (s *Service) validateEvents(ctx context.Context, matches []vector.Match, viewer *eventViewer, now time.Time) ([]Candidate[*store.Event], error) {
	distances := make(map[int32]float32, len(matches))
	ids := make([]int32, 0, len(matches))
	for _, match := range matches {
		if _, ok := viewer.declined[match.ID]; ok {
			continue
		}
		distances[match.ID] = match.Distance
		ids = append(ids, match.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	active := true
	events, err := s.reader.ListEvents(ctx, &store.FindEvent{IDList: ids, IsActive: &active})
	if err != nil {
		return nil, fmt.Errorf("load candidate events: %w", err)
	}
	found := make(map[int32]struct{}, len(events))
	candidates := make([]Candidate[*store.Event], 0, len(events))
	for _, event := range events {
		found[event.ID] = struct{}{}
		if !viewer.admits(event, now) {
			continue
		}
		candidates = append(candidates, Candidate[*store.Event]{
			EntityID:    event.ID,
			RawDistance: distances[event.ID],
			Entity:      event,
		})
	}
	logGone(store.EntityTypeEvent, ids, found)
	return candidates, nil
}
