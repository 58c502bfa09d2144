package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbagz/ladchat/ai"
	"github.com/mcbagz/ladchat/internal/profile"
	"github.com/mcbagz/ladchat/store"
	"github.com/mcbagz/ladchat/store/db/sqlite"
)

func newTestStore(t *testing.T) (*profile.Profile, *store.Store, store.Driver) {
	t.Helper()
	ctx := context.Background()
	prof := &profile.Profile{
		Mode:                "dev",
		Driver:              "sqlite",
		DSN:                 filepath.Join(t.TempDir(), "ladchat_test.db"),
		EmbeddingDimensions: 3,
		VectorBackend:       "memory",
		UserHeader:          "X-User-ID",
	}
	driver, err := sqlite.NewDB(prof)
	require.NoError(t, err)
	st := store.New(driver, prof)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	_, err = driver.GetDB().Exec(`INSERT INTO users (id, username, interests) VALUES (1, 'alex', '["Gaming"]')`)
	require.NoError(t, err)
	return prof, st, driver
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	prof, st, _ := newTestStore(t)
	return startTestServer(t, prof, st)
}

func startTestServer(t *testing.T, prof *profile.Profile, st *store.Store) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), prof, st)
	require.NoError(t, err)
	t.Cleanup(func() { s.Engine.Close() })
	return s
}

func get(s *Server, target, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := get(s, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// A degraded recommendation shows up in the metrics.
	get(s, "/api/v1/recommendations/friends", "1")

	rec = get(s, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ladchat_recommend_requests_total")
}

func TestServer_RecommendationsDegradeWithoutEmbedder(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.Engine.Config.Enabled)

	rec := get(s, "/api/v1/recommendations/friends", "1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
		Message string            `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Empty(t, body.Data)
	assert.NotNil(t, body.Data)
	assert.Equal(t, "Found 0 recommendations", body.Message)

	assert.Equal(t, http.StatusNotFound, get(s, "/api/v1/recommendations/friends", "2").Code)
}

func TestServer_Stats(t *testing.T) {
	s := newTestServer(t)

	rec := get(s, "/api/v1/recommendations/stats", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"users":0,"groups":0,"events":0}}`, rec.Body.String())
}

func TestServer_ServesDurableVectorsAfterRestart(t *testing.T) {
	prof, st, driver := newTestStore(t)
	ctx := context.Background()
	_, err := driver.GetDB().Exec(`INSERT INTO users (id, username, interests) VALUES (2, 'blake', '["Gaming"]')`)
	require.NoError(t, err)

	// Records written by an earlier process; the in-memory index starts empty.
	now := time.Now().Unix()
	for id, vec := range map[int32][]float32{1: {1, 0, 0}, 2: {0.9, 0.1, 0}} {
		_, err := st.UpsertEmbeddingRecord(ctx, &store.EmbeddingRecord{
			EntityType: store.EntityTypeUser, EntityID: id, Embedding: vec, Model: "m", CreatedTs: now, UpdatedTs: now,
		})
		require.NoError(t, err)
	}

	s := startTestServer(t, prof, st)

	rec := get(s, "/api/v1/recommendations/stats", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"users":2,"groups":0,"events":0}}`, rec.Body.String())

	rec = get(s, "/api/v1/recommendations/friends", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []struct {
			UserID int32 `json:"user_id"`
		} `json:"data"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Found 1 recommendations", body.Message)
	require.Len(t, body.Data, 1)
	assert.Equal(t, int32(2), body.Data[0].UserID)
}

func TestNewVectorIndex_UnsupportedBackend(t *testing.T) {
	_, _, err := newVectorIndex(&ai.IndexConfig{Backend: "faiss"}, nil)
	assert.ErrorContains(t, err, "unsupported vector backend")
}

func TestUnavailableEmbedder(t *testing.T) {
	_, err := unavailableEmbedder{}.EmbedText(context.Background(), "hello")
	assert.ErrorIs(t, err, ai.ErrEmbedderUnavailable)
	_, err = unavailableEmbedder{}.DescribeImage(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ai.ErrEmbedderUnavailable)
}
