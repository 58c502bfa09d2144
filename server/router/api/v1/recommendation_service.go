package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mcbagz/ladchat/ai/recommend"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/internal/geo"
	"github.com/mcbagz/ladchat/store"
)

// Recommender is the fail-soft recommendation surface, implemented by *recommend.Service.
type Recommender interface {
	RecommendFriends(ctx context.Context, userID int32, limit int) []*recommend.FriendRecommendation
	RecommendEventsToUser(ctx context.Context, userID int32, coords *geo.Point, limit int) []*recommend.EventRecommendation
	RecommendEventsToGroup(ctx context.Context, groupID int32, adminCoords *geo.Point, limit int) []*recommend.EventRecommendation
}

// EntityReader loads the requester and groups, implemented by *store.Store.
type EntityReader interface {
	GetUser(ctx context.Context, id int32) (*store.User, error)
	GetGroup(ctx context.Context, id int32) (*store.Group, error)
}

// IndexStats reports index entries per collection, implemented by *embedstore.Store.
type IndexStats interface {
	Stats(ctx context.Context) (map[vector.Collection]int64, error)
}

// Response is the envelope of every recommendation endpoint.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// RecommendationService serves /api/v1/recommendations.
type RecommendationService struct {
	Recommender Recommender
	Reader      EntityReader
	Stats       IndexStats
	// UserHeader carries the id of the caller authenticated upstream.
	UserHeader string
}

// RegisterRoutes mounts the recommendation endpoints under g.
func (s *RecommendationService) RegisterRoutes(g *echo.Group) {
	g.GET("/friends", s.GetFriendRecommendations)
	g.GET("/events", s.GetEventRecommendations)
	g.GET("/groups/:id/events", s.GetGroupEventRecommendations)
	g.GET("/stats", s.GetStats)
}

type friendsRequest struct {
	Limit *int `query:"limit" validate:"omitempty,min=1,max=20"`
}

type eventsRequest struct {
	Limit     *int     `query:"limit" validate:"omitempty,min=1,max=20"`
	Latitude  *float64 `query:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `query:"longitude" validate:"omitempty,longitude"`
}

type groupEventsRequest struct {
	GroupID        int32    `param:"id" validate:"gt=0"`
	Limit          *int     `query:"limit" validate:"omitempty,min=1,max=10"`
	AdminLatitude  *float64 `query:"admin_latitude" validate:"omitempty,latitude"`
	AdminLongitude *float64 `query:"admin_longitude" validate:"omitempty,longitude"`
}

func (s *RecommendationService) GetFriendRecommendations(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := s.currentUserID(c)
	if err != nil {
		return err
	}
	var req friendsRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	user, err := s.Reader.GetUser(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get user").SetInternal(err)
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if !user.OpenToFriends {
		return c.JSON(http.StatusOK, Response{Success: false, Data: []any{}, Message: "User not open to friends"})
	}

	results := s.Recommender.RecommendFriends(ctx, userID, limitOrDefault(req.Limit, recommend.DefaultLimit))
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    results,
		Message: fmt.Sprintf("Found %d recommendations", len(results)),
	})
}

func (s *RecommendationService) GetEventRecommendations(c echo.Context) error {
	userID, err := s.currentUserID(c)
	if err != nil {
		return err
	}
	var req eventsRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	coords := pointOf(req.Latitude, req.Longitude)
	results := s.Recommender.RecommendEventsToUser(c.Request().Context(), userID, coords, limitOrDefault(req.Limit, recommend.DefaultLimit))
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    results,
		Message: fmt.Sprintf("Found %d event recommendations", len(results)),
	})
}

func (s *RecommendationService) GetGroupEventRecommendations(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := s.currentUserID(c)
	if err != nil {
		return err
	}
	var req groupEventsRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	group, err := s.Reader.GetGroup(ctx, req.GroupID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get group").SetInternal(err)
	}
	if group == nil {
		return echo.NewHTTPError(http.StatusNotFound, "group not found")
	}
	if !group.IsAdmin(userID) {
		return echo.NewHTTPError(http.StatusForbidden, "Not authorized")
	}

	coords := pointOf(req.AdminLatitude, req.AdminLongitude)
	results := s.Recommender.RecommendEventsToGroup(ctx, group.ID, coords, limitOrDefault(req.Limit, recommend.DefaultGroupLimit))
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    results,
		Message: fmt.Sprintf("Found %d events for group", len(results)),
	})
}

func (s *RecommendationService) GetStats(c echo.Context) error {
	stats, err := s.Stats.Stats(c.Request().Context())
	if err != nil {
		slog.Warn("failed to read index stats", "error", err)
		return c.JSON(http.StatusOK, Response{Success: false, Data: map[string]int64{}, Message: "vector index unavailable"})
	}
	data := make(map[string]int64, len(stats))
	for collection, count := range stats {
		data[string(collection)] = count
	}
	return c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (s *RecommendationService) currentUserID(c echo.Context) (int32, error) {
	header := s.UserHeader
	if header == "" {
		header = "X-User-ID"
	}
	raw := c.Request().Header.Get(header)
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid user id")
	}
	return int32(id), nil
}

func limitOrDefault(limit *int, fallback int) int {
	if limit == nil {
		return fallback
	}
	return *limit
}

// pointOf pairs optional coordinates. A lone latitude or longitude is ignored.
func pointOf(lat, lng *float64) *geo.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &geo.Point{Latitude: *lat, Longitude: *lng}
}
