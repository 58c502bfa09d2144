package refresh

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

type fakeCatalog struct {
	mu      sync.Mutex
	needing map[store.EntityType][]int32
	orphans map[store.EntityType][]int32
	finds   []store.FindEntitiesNeedingEmbedding
}

func (f *fakeCatalog) ListEntitiesNeedingEmbedding(_ context.Context, find *store.FindEntitiesNeedingEmbedding) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, *find)
	return f.needing[find.EntityType], nil
}

func (f *fakeCatalog) ListOrphanedEmbeddingRecords(_ context.Context, entityType store.EntityType) ([]int32, error) {
	return f.orphans[entityType], nil
}

type embedCall struct {
	entityType store.EntityType
	id         int32
}

type fakeEmbedder struct {
	mu      sync.Mutex
	calls   []embedCall
	failIDs map[int32]bool
	// block, when set, makes every call wait for ctx or for the channel to close.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeEmbedder) EmbedEntity(ctx context.Context, entityType store.EntityType, id int32) ([]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, embedCall{entityType, id})
	f.mu.Unlock()

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failIDs[id] {
		return nil, errors.New("embedder unavailable")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecords struct {
	mu         sync.Mutex
	deleted    []embedCall
	failDelete map[int32]bool
	reconciled []store.EntityType
	written    int
}

func (f *fakeRecords) Delete(_ context.Context, entityType store.EntityType, id int32) error {
	if f.failDelete[id] {
		return errors.New("database locked")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, embedCall{entityType, id})
	return nil
}

func (f *fakeRecords) Reconcile(_ context.Context, entityType store.EntityType, _ embedstore.MetadataSource) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, entityType)
	return f.written, nil
}

type nopMetadata struct{}

func (nopMetadata) Metadata(context.Context, store.EntityType, int32) (*vector.Metadata, error) {
	return nil, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	sweeps   int
}

func (c *countingObserver) ObserveRefreshEntity(entityType, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[entityType+"/"+outcome]++
}

func (c *countingObserver) ObserveSweep(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps++
}

func TestRunOnce_IsolatesEntityFailures(t *testing.T) {
	catalog := &fakeCatalog{needing: map[store.EntityType][]int32{
		store.EntityTypeUser:  {1, 2, 3},
		store.EntityTypeGroup: {4},
		store.EntityTypeEvent: {5},
	}}
	embedder := &fakeEmbedder{failIDs: map[int32]bool{2: true}}
	records := &fakeRecords{written: 1}
	observer := &countingObserver{}
	s := NewScheduler(catalog, embedder, records, nopMetadata{}, observer, Config{Concurrency: 2})

	stats := s.RunOnce(context.Background())

	assert.NotEmpty(t, stats.RunID)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 4, stats.Refreshed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Reconciled)
	assert.Len(t, embedder.calls, 5)
	assert.Equal(t, store.EntityTypes, records.reconciled)

	assert.Equal(t, 2, observer.outcomes["user/refreshed"])
	assert.Equal(t, 1, observer.outcomes["user/failed"])
	assert.Equal(t, 1, observer.outcomes["event/refreshed"])
	assert.Equal(t, 1, observer.sweeps)
}

func TestRunOnce_UsesFreshnessCutoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	catalog := &fakeCatalog{}
	s := NewScheduler(catalog, &fakeEmbedder{}, &fakeRecords{}, nopMetadata{}, nil, Config{
		BatchSize: 50,
		Policy:    embedstore.NewFreshnessPolicy(2 * time.Hour),
	})
	s.now = func() time.Time { return now }

	s.RunOnce(context.Background())

	require.Len(t, catalog.finds, 3)
	for _, find := range catalog.finds {
		assert.Equal(t, 50, find.Limit)
		switch find.EntityType {
		case store.EntityTypeEvent:
			assert.Nil(t, find.UpdatedBefore)
		default:
			require.NotNil(t, find.UpdatedBefore)
			assert.Equal(t, now.Add(-2*time.Hour).Unix(), *find.UpdatedBefore)
		}
	}
}

func TestRunOnce_CollectsOrphans(t *testing.T) {
	catalog := &fakeCatalog{orphans: map[store.EntityType][]int32{
		store.EntityTypeUser:  {7, 8},
		store.EntityTypeEvent: {9},
	}}
	records := &fakeRecords{failDelete: map[int32]bool{8: true}}
	observer := &countingObserver{}
	s := NewScheduler(catalog, &fakeEmbedder{}, records, nopMetadata{}, observer, Config{})

	stats := s.RunOnce(context.Background())

	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, []embedCall{{store.EntityTypeUser, 7}, {store.EntityTypeEvent, 9}}, records.deleted)
	assert.Equal(t, 1, observer.outcomes["user/collected"])
	assert.Equal(t, 1, observer.outcomes["event/collected"])
}

func TestRunOnce_EntityTimeout(t *testing.T) {
	catalog := &fakeCatalog{needing: map[store.EntityType][]int32{store.EntityTypeUser: {1, 2}}}
	embedder := &fakeEmbedder{block: make(chan struct{})}
	s := NewScheduler(catalog, embedder, &fakeRecords{}, nopMetadata{}, nil, Config{
		Concurrency:   1,
		EntityTimeout: 20 * time.Millisecond,
	})

	stats := s.RunOnce(context.Background())

	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Refreshed)
	assert.Equal(t, 2, embedder.callCount())
}

func TestRunOnce_SkipsOverlappingSweep(t *testing.T) {
	catalog := &fakeCatalog{needing: map[store.EntityType][]int32{store.EntityTypeUser: {1}}}
	embedder := &fakeEmbedder{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewScheduler(catalog, embedder, &fakeRecords{}, nopMetadata{}, nil, Config{})

	done := make(chan SweepStats)
	go func() { done <- s.RunOnce(context.Background()) }()

	select {
	case <-embedder.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sweep never reached the embedder")
	}

	second := s.RunOnce(context.Background())
	assert.True(t, second.Skipped)

	close(embedder.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Refreshed)
}

func TestRunOnce_RateLimited(t *testing.T) {
	ids := []int32{1, 2, 3, 4}
	catalog := &fakeCatalog{needing: map[store.EntityType][]int32{store.EntityTypeUser: ids}}
	embedder := &fakeEmbedder{}
	s := NewScheduler(catalog, embedder, &fakeRecords{}, nopMetadata{}, nil, Config{
		Concurrency:   1,
		RatePerSecond: 20,
	})

	start := time.Now()
	stats := s.RunOnce(context.Background())

	assert.Equal(t, 4, stats.Refreshed)
	// Burst of one, then three waits of 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	got := make([]int32, 0, len(ids))
	for _, call := range embedder.calls {
		got = append(got, call.id)
	}
	slices.Sort(got)
	assert.Equal(t, ids, got)
}

func TestScheduler_StartStop(t *testing.T) {
	catalog := &fakeCatalog{needing: map[store.EntityType][]int32{store.EntityTypeUser: {1}}}
	embedder := &fakeEmbedder{}
	s := NewScheduler(catalog, embedder, &fakeRecords{}, nopMetadata{}, nil, Config{Interval: 10 * time.Millisecond})

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return embedder.callCount() > 0 }, 5*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&fakeCatalog{}, &fakeEmbedder{}, &fakeRecords{}, nopMetadata{}, nil, Config{})
	assert.Equal(t, DefaultConfig(), s.config)
}
