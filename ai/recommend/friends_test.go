package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/store"
)

func friendIDs(results []*FriendRecommendation) []int32 {
	ids := make([]int32, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.UserID)
	}
	return ids
}

func TestRecommendFriends_EndToEnd(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1, "Gaming", "Hiking")
	reader.users[2] = activeUser(2, "Gaming", "BBQ")
	reader.users[3] = activeUser(3, "Hiking")
	reader.befriend(1, 3)

	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	// cos(A, B) = 0.9, so the cosine distance is 0.1.
	vectors.putUser(2, 0.9, float32(math.Sqrt(1-0.81)), 0)
	vectors.putUser(3, 1, 0, 0)

	svc := newTestService(reader, vectors, nil)
	results := svc.RecommendFriends(context.Background(), 1, 5)

	require.Len(t, results, 1)
	assert.Equal(t, int32(2), results[0].UserID)
	assert.InDelta(t, 0.9, results[0].SimilarityScore, 1e-4)
	assert.Contains(t, results[0].Reason, "Gaming")
	assert.Equal(t, 0, results[0].MutualFriendsCount)
}

func TestRecommendFriends_Exclusions(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	for id := int32(2); id <= 10; id++ {
		reader.users[id] = activeUser(id)
	}
	reader.befriend(1, 2)
	reader.requests = []*store.FriendRequest{
		{SenderID: 1, RecipientID: 3, Status: store.FriendRequestPending},
		{SenderID: 4, RecipientID: 1, Status: store.FriendRequestDeclined},
		{SenderID: 1, RecipientID: 5, Status: store.FriendRequestDeclined},
		{SenderID: 6, RecipientID: 1, Status: store.FriendRequestCancelled},
	}
	reader.users[7].IsActive = false
	reader.users[8].OpenToFriends = false
	delete(reader.users, 9)

	vectors := newFakeVectors()
	for id := int32(1); id <= 10; id++ {
		vectors.putUser(id, 1, float32(id)/100, 0)
	}

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []int32{6, 10}, friendIDs(results))
}

func TestRecommendFriends_MutualFriends(t *testing.T) {
	reader := newFakeReader()
	for id := int32(1); id <= 5; id++ {
		reader.users[id] = activeUser(id)
	}
	reader.befriend(1, 2)
	reader.befriend(1, 3)
	reader.befriend(4, 2)
	reader.befriend(4, 3)
	reader.befriend(5, 2)

	vectors := newFakeVectors()
	for id := int32(1); id <= 5; id++ {
		vectors.putUser(id, 1, float32(id)/10, 0)
	}

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	counts := map[int32]int{}
	for _, r := range results {
		counts[r.UserID] = r.MutualFriendsCount
	}
	assert.Equal(t, map[int32]int{4: 2, 5: 1}, counts)
}

func TestRecommendFriends_ScoreMonotonicWithIDTieBreak(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	for _, id := range []int32{9, 4, 6, 2} {
		reader.users[id] = activeUser(id)
	}
	vectors.putUser(9, 1, 0.5, 0)
	vectors.putUser(4, 1, 0.5, 0)
	vectors.putUser(6, 0, 1, 0)
	vectors.putUser(2, 1, 0.1, 0)

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []int32{2, 4, 9, 6}, friendIDs(results))
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].SimilarityScore, results[i-1].SimilarityScore)
	}
	assert.Equal(t, results[1].SimilarityScore, results[2].SimilarityScore)
}

func TestRecommendFriends_RequesterNotOpenToFriends(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	reader.users[1].OpenToFriends = false
	reader.users[2] = activeUser(2)
	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	vectors.putUser(2, 1, 0, 0)

	svc := newTestService(reader, vectors, nil)
	results := svc.RecommendFriends(context.Background(), 1, 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, vectors.queries())
}

func TestRecommendFriends_IndexFailureDegrades(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	reader.users[2] = activeUser(2)
	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	vectors.putUser(2, 1, 0, 0)
	vectors.failFrom = 1
	vectors.queryErr = fmt.Errorf("%w: connection refused", embedstore.ErrIndexUnavailable)

	observer := &recordingObserver{}
	svc := newTestService(reader, vectors, nil, WithObserver(observer))

	results := svc.RecommendFriends(context.Background(), 1, 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	require.Len(t, observer.errs, 1)
	assert.Equal(t, KindFriends, observer.kinds[0])
	assert.ErrorIs(t, observer.errs[0], embedstore.ErrIndexUnavailable)
}

func TestRecommendFriends_OverFetchRetryBound(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	for id := int32(2); id <= 41; id++ {
		reader.users[id] = activeUser(id)
		reader.users[id].OpenToFriends = false
		vectors.putUser(id, 1, float32(id)/100, 0)
	}

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, []int{6, 12, 24}, vectors.ks)
}

func TestRecommendFriends_StopsWhenIndexRunsDry(t *testing.T) {
	reader := newFakeReader()
	vectors := newFakeVectors()
	for id := int32(1); id <= 4; id++ {
		reader.users[id] = activeUser(id)
		vectors.putUser(id, 1, float32(id)/10, 0)
	}

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, []int{15}, vectors.ks)
}

func TestRecommendFriends_RetryFailureKeepsPartialResult(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	vectors := newFakeVectors()
	vectors.putUser(1, 1, 0, 0)
	for id := int32(2); id <= 11; id++ {
		reader.users[id] = activeUser(id)
		reader.users[id].OpenToFriends = id == 2
		vectors.putUser(id, 1, float32(id)/100, 0)
	}
	vectors.failFrom = 2
	vectors.queryErr = errors.New("boom")

	svc := newTestService(reader, vectors, nil)
	results, err := svc.recommendFriends(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, friendIDs(results))
	assert.Equal(t, []int{9, 18}, vectors.ks)
}

func TestResolveVector(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds on miss once", func(t *testing.T) {
		vectors := newFakeVectors()
		embedder := &fakeEntityEmbedder{vectors: map[int32][]float32{1: {1, 0, 0}}, sink: vectors}
		svc := newTestService(newFakeReader(), vectors, embedder)

		vec, err := svc.resolveVector(ctx, store.EntityTypeUser, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, vec)

		_, err = svc.resolveVector(ctx, store.EntityTypeUser, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, embedder.calls)
	})

	t.Run("fresh record skips embedder", func(t *testing.T) {
		vectors := newFakeVectors()
		vectors.putUser(1, 0, 1, 0)
		embedder := &fakeEntityEmbedder{}
		svc := newTestService(newFakeReader(), vectors, embedder)

		vec, err := svc.resolveVector(ctx, store.EntityTypeUser, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0}, vec)
		assert.Zero(t, embedder.calls)
	})

	t.Run("stale record refreshed", func(t *testing.T) {
		vectors := newFakeVectors()
		vectors.put(store.EntityTypeGroup, 4, testNow.Add(-48*time.Hour), groupMetadata(), 0, 1, 0)
		embedder := &fakeEntityEmbedder{vectors: map[int32][]float32{4: {0, 0, 1}}, sink: vectors}
		svc := newTestService(newFakeReader(), vectors, embedder)

		vec, err := svc.resolveVector(ctx, store.EntityTypeGroup, 4)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1}, vec)
		assert.Equal(t, 1, embedder.calls)
	})

	t.Run("stale record used when refresh fails", func(t *testing.T) {
		vectors := newFakeVectors()
		vectors.put(store.EntityTypeUser, 1, testNow.Add(-48*time.Hour), userMetadata(), 0, 1, 0)
		embedder := &fakeEntityEmbedder{err: errors.New("embedder down")}
		svc := newTestService(newFakeReader(), vectors, embedder)

		vec, err := svc.resolveVector(ctx, store.EntityTypeUser, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0}, vec)
	})

	t.Run("missing record and failing embedder", func(t *testing.T) {
		down := errors.New("embedder down")
		svc := newTestService(newFakeReader(), newFakeVectors(), &fakeEntityEmbedder{err: down})

		_, err := svc.resolveVector(ctx, store.EntityTypeUser, 1)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, down)
	})

	t.Run("entity gone", func(t *testing.T) {
		svc := newTestService(newFakeReader(), newFakeVectors(), &fakeEntityEmbedder{vectors: map[int32][]float32{}})

		_, err := svc.resolveVector(ctx, store.EntityTypeUser, 1)
		assert.ErrorIs(t, err, ErrDomainEntityGone)
	})
}

func TestRecommendFriends_EmbedderFailureDegrades(t *testing.T) {
	reader := newFakeReader()
	reader.users[1] = activeUser(1)
	observer := &recordingObserver{}
	svc := newTestService(reader, newFakeVectors(), &fakeEntityEmbedder{err: errors.New("timeout")}, WithObserver(observer))

	assert.Empty(t, svc.RecommendFriends(context.Background(), 1, 5))
	require.Len(t, observer.errs, 1)
	assert.ErrorIs(t, observer.errs[0], ErrEmbeddingUnavailable)
}

func TestRecommendFriends_UnknownRequester(t *testing.T) {
	svc := newTestService(newFakeReader(), newFakeVectors(), nil)
	_, err := svc.recommendFriends(context.Background(), 404, 5)
	assert.ErrorIs(t, err, ErrDomainEntityGone)
}
