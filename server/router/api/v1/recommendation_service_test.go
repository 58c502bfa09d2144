package v1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbagz/ladchat/ai/recommend"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/internal/geo"
	"github.com/mcbagz/ladchat/store"
)

type recordedCall struct {
	id     int32
	coords *geo.Point
	limit  int
}

type fakeRecommender struct {
	friends []*recommend.FriendRecommendation
	events  []*recommend.EventRecommendation
	calls   []recordedCall
}

func (f *fakeRecommender) RecommendFriends(_ context.Context, userID int32, limit int) []*recommend.FriendRecommendation {
	f.calls = append(f.calls, recordedCall{id: userID, limit: limit})
	return f.friends
}

func (f *fakeRecommender) RecommendEventsToUser(_ context.Context, userID int32, coords *geo.Point, limit int) []*recommend.EventRecommendation {
	f.calls = append(f.calls, recordedCall{userID, coords, limit})
	return f.events
}

func (f *fakeRecommender) RecommendEventsToGroup(_ context.Context, groupID int32, coords *geo.Point, limit int) []*recommend.EventRecommendation {
	f.calls = append(f.calls, recordedCall{groupID, coords, limit})
	return f.events
}

type fakeEntities struct {
	users  map[int32]*store.User
	groups map[int32]*store.Group
}

func (f *fakeEntities) GetUser(_ context.Context, id int32) (*store.User, error) {
	return f.users[id], nil
}

func (f *fakeEntities) GetGroup(_ context.Context, id int32) (*store.Group, error) {
	return f.groups[id], nil
}

type fakeStats struct {
	stats map[vector.Collection]int64
	err   error
}

func (f fakeStats) Stats(context.Context) (map[vector.Collection]int64, error) {
	return f.stats, f.err
}

func newTestServer(recommender *fakeRecommender, stats IndexStats) *echo.Echo {
	e := echo.New()
	svc := &RecommendationService{
		Recommender: recommender,
		Reader: &fakeEntities{
			users: map[int32]*store.User{
				1: {ID: 1, OpenToFriends: true, IsActive: true},
				2: {ID: 2, OpenToFriends: false, IsActive: true},
			},
			groups: map[int32]*store.Group{
				7: {ID: 7, Admins: []int32{1}, Members: []int32{1, 2}, IsActive: true},
			},
		},
		Stats:      stats,
		UserHeader: "X-User-ID",
	}
	svc.RegisterRoutes(e.Group("/api/v1/recommendations"))
	return e
}

func do(e *echo.Echo, target, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetFriendRecommendations(t *testing.T) {
	recommender := &fakeRecommender{friends: []*recommend.FriendRecommendation{{UserID: 5, Reason: "You both love Gaming"}}}
	e := newTestServer(recommender, nil)

	rec := do(e, "/api/v1/recommendations/friends?limit=3", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Found 1 recommendations", body["message"])
	assert.Len(t, body["data"], 1)
	assert.Equal(t, []recordedCall{{id: 1, limit: 3}}, recommender.calls)
}

func TestGetFriendRecommendations_NotOpenToFriends(t *testing.T) {
	recommender := &fakeRecommender{}
	e := newTestServer(recommender, nil)

	rec := do(e, "/api/v1/recommendations/friends", "2")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "User not open to friends", body["message"])
	assert.Empty(t, recommender.calls)
}

func TestRecommendationRequestValidation(t *testing.T) {
	e := newTestServer(&fakeRecommender{}, nil)
	tests := []struct {
		name   string
		target string
		userID string
		want   int
	}{
		{"missing user header", "/api/v1/recommendations/friends", "", http.StatusUnauthorized},
		{"garbage user header", "/api/v1/recommendations/friends", "abc", http.StatusUnauthorized},
		{"limit too large", "/api/v1/recommendations/events?limit=21", "1", http.StatusBadRequest},
		{"limit zero", "/api/v1/recommendations/friends?limit=0", "1", http.StatusBadRequest},
		{"group limit too large", "/api/v1/recommendations/groups/7/events?limit=11", "1", http.StatusBadRequest},
		{"bad latitude", "/api/v1/recommendations/events?latitude=north&longitude=1", "1", http.StatusBadRequest},
		{"latitude out of range", "/api/v1/recommendations/events?latitude=95&longitude=1", "1", http.StatusBadRequest},
		{"unknown user", "/api/v1/recommendations/friends", "99", http.StatusNotFound},
		{"bad group id", "/api/v1/recommendations/groups/x/events", "1", http.StatusBadRequest},
		{"unknown group", "/api/v1/recommendations/groups/8/events", "1", http.StatusNotFound},
		{"not an admin", "/api/v1/recommendations/groups/7/events", "2", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(e, tt.target, tt.userID).Code)
		})
	}
}

func TestGetEventRecommendations(t *testing.T) {
	recommender := &fakeRecommender{events: []*recommend.EventRecommendation{{EventID: 10}}}
	e := newTestServer(recommender, nil)

	rec := do(e, "/api/v1/recommendations/events?latitude=42.36&longitude=-83.35", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Found 1 event recommendations", decode(t, rec)["message"])

	require.Len(t, recommender.calls, 1)
	assert.Equal(t, recommend.DefaultLimit, recommender.calls[0].limit)
	assert.Equal(t, &geo.Point{Latitude: 42.36, Longitude: -83.35}, recommender.calls[0].coords)

	// A lone latitude is ignored.
	do(e, "/api/v1/recommendations/events?latitude=42.36", "1")
	assert.Nil(t, recommender.calls[1].coords)
}

func TestGetGroupEventRecommendations(t *testing.T) {
	recommender := &fakeRecommender{events: []*recommend.EventRecommendation{{EventID: 30}, {EventID: 33}}}
	e := newTestServer(recommender, nil)

	rec := do(e, "/api/v1/recommendations/groups/7/events?admin_latitude=1&admin_longitude=2", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Found 2 events for group", decode(t, rec)["message"])
	assert.Equal(t, []recordedCall{{7, &geo.Point{Latitude: 1, Longitude: 2}, recommend.DefaultGroupLimit}}, recommender.calls)
}

func TestGetStats(t *testing.T) {
	e := newTestServer(&fakeRecommender{}, fakeStats{stats: map[vector.Collection]int64{vector.CollectionUsers: 3}})
	body := decode(t, do(e, "/api/v1/recommendations/stats", "1"))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"users": 3.0}, body["data"])

	e = newTestServer(&fakeRecommender{}, fakeStats{err: errors.New("qdrant down")})
	rec := do(e, "/api/v1/recommendations/stats", "1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}
