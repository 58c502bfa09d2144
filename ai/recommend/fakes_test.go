package recommend

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

var testNow = time.Unix(1_700_000_000, 0)

type fakeReader struct {
	users    map[int32]*store.User
	groups   map[int32]*store.Group
	events   map[int32]*store.Event
	friends  map[int32][]int32
	requests []*store.FriendRequest
	rsvps    []*store.EventRSVP
	memberOf map[int32][]int32
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		users:    map[int32]*store.User{},
		groups:   map[int32]*store.Group{},
		events:   map[int32]*store.Event{},
		friends:  map[int32][]int32{},
		memberOf: map[int32][]int32{},
	}
}

func (f *fakeReader) befriend(a, b int32) {
	f.friends[a] = append(f.friends[a], b)
	f.friends[b] = append(f.friends[b], a)
}

func (f *fakeReader) GetUser(_ context.Context, id int32) (*store.User, error) {
	return f.users[id], nil
}

func (f *fakeReader) GetGroup(_ context.Context, id int32) (*store.Group, error) {
	return f.groups[id], nil
}

func (f *fakeReader) ListUsers(_ context.Context, find *store.FindUser) ([]*store.User, error) {
	var users []*store.User
	for _, id := range find.IDList {
		user, ok := f.users[id]
		if !ok || (find.IsActive != nil && user.IsActive != *find.IsActive) {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

func (f *fakeReader) ListEvents(_ context.Context, find *store.FindEvent) ([]*store.Event, error) {
	var events []*store.Event
	for _, id := range find.IDList {
		event, ok := f.events[id]
		if !ok || (find.IsActive != nil && event.IsActive != *find.IsActive) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (f *fakeReader) ListEventRSVPs(_ context.Context, find *store.FindEventRSVP) ([]*store.EventRSVP, error) {
	var rsvps []*store.EventRSVP
	for _, rsvp := range f.rsvps {
		if find.UserID != nil && rsvp.UserID != *find.UserID {
			continue
		}
		rsvps = append(rsvps, rsvp)
	}
	return rsvps, nil
}

func (f *fakeReader) ListFriendIDs(_ context.Context, userID int32) ([]int32, error) {
	return f.friends[userID], nil
}

func (f *fakeReader) ListFriendRequests(_ context.Context, find *store.FindFriendRequest) ([]*store.FriendRequest, error) {
	var requests []*store.FriendRequest
	for _, request := range f.requests {
		if find.UserID != nil && request.SenderID != *find.UserID && request.RecipientID != *find.UserID {
			continue
		}
		if len(find.StatusList) > 0 && !slices.Contains(find.StatusList, request.Status) {
			continue
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (f *fakeReader) ListGroupIDsForUser(_ context.Context, userID int32) ([]int32, error) {
	return f.memberOf[userID], nil
}

// fakeVectors keeps durable records in a map and queries a real MemoryIndex.
type fakeVectors struct {
	mu      sync.Mutex
	index   *vector.MemoryIndex
	records map[store.EntityType]map[int32]*store.EmbeddingRecord
	ks      []int
	// failFrom makes every query from this 1-based call onwards fail; 0 never fails.
	failFrom int
	queryErr error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		index:   vector.NewMemoryIndex(),
		records: map[store.EntityType]map[int32]*store.EmbeddingRecord{},
	}
}

func (f *fakeVectors) put(entityType store.EntityType, id int32, updated time.Time, metadata vector.Metadata, vec ...float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[entityType] == nil {
		f.records[entityType] = map[int32]*store.EmbeddingRecord{}
	}
	f.records[entityType][id] = &store.EmbeddingRecord{
		EntityType: entityType,
		EntityID:   id,
		Embedding:  vec,
		UpdatedTs:  updated.Unix(),
	}
	collection, err := embedstore.CollectionFor(entityType)
	if err != nil {
		panic(err)
	}
	if err := f.index.Upsert(context.Background(), collection, &vector.Entry{ID: id, Vector: vec, Metadata: metadata}); err != nil {
		panic(err)
	}
}

func userMetadata() vector.Metadata {
	return vector.Metadata{User: &vector.UserMetadata{}}
}

func groupMetadata() vector.Metadata {
	return vector.Metadata{Group: &vector.GroupMetadata{}}
}

func (f *fakeVectors) putUser(id int32, vec ...float32) {
	f.put(store.EntityTypeUser, id, testNow, userMetadata(), vec...)
}

func (f *fakeVectors) putEvent(id int32, visibility store.EventVisibility, vec ...float32) {
	f.put(store.EntityTypeEvent, id, testNow, vector.Metadata{Event: &vector.EventMetadata{Visibility: string(visibility)}}, vec...)
}

func (f *fakeVectors) putGroup(id int32, vec ...float32) {
	f.put(store.EntityTypeGroup, id, testNow, groupMetadata(), vec...)
}

func (f *fakeVectors) queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ks)
}

func (f *fakeVectors) Get(_ context.Context, entityType store.EntityType, entityID int32) (*store.EmbeddingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[entityType][entityID], nil
}

func (f *fakeVectors) QuerySimilar(ctx context.Context, entityType store.EntityType, query []float32, k int, filter *vector.Filter) ([]vector.Match, error) {
	f.mu.Lock()
	f.ks = append(f.ks, k)
	call := len(f.ks)
	f.mu.Unlock()

	if f.failFrom > 0 && call >= f.failFrom {
		return nil, f.queryErr
	}
	collection, err := embedstore.CollectionFor(entityType)
	if err != nil {
		return nil, err
	}
	return f.index.Query(ctx, collection, query, k, filter)
}

// fakeEntityEmbedder returns canned vectors and writes them back like the indexer does.
type fakeEntityEmbedder struct {
	mu      sync.Mutex
	vectors map[int32][]float32
	err     error
	calls   int
	sink    *fakeVectors
}

func (f *fakeEntityEmbedder) EmbedEntity(_ context.Context, entityType store.EntityType, entityID int32) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vec, ok := f.vectors[entityID]
	if !ok {
		return nil, embedstore.ErrEntityNotFound
	}
	if f.sink != nil {
		f.sink.mu.Lock()
		if f.sink.records[entityType] == nil {
			f.sink.records[entityType] = map[int32]*store.EmbeddingRecord{}
		}
		f.sink.records[entityType][entityID] = &store.EmbeddingRecord{EntityType: entityType, EntityID: entityID, Embedding: vec, UpdatedTs: testNow.Unix()}
		f.sink.mu.Unlock()
	}
	return vec, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
	errs  []error
}

func (r *recordingObserver) ObserveRecommendation(kind string, err error, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.errs = append(r.errs, err)
}

func newTestService(reader *fakeReader, vectors *fakeVectors, embedder EntityEmbedder, opts ...Option) *Service {
	if embedder == nil {
		embedder = &fakeEntityEmbedder{vectors: map[int32][]float32{}}
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(reader, vectors, embedder, opts...)
}

func activeUser(id int32, interests ...string) *store.User {
	return &store.User{ID: id, Username: "user", Interests: interests, IsActive: true, OpenToFriends: true}
}

func ptr[T any](v T) *T {
	return &v
}
