package vector

import (
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadEntityID   = "entity_id"
	payloadVisibility = "visibility"
	payloadMetadata   = "metadata"
)

// qdrantPoints is the subset of *qdrant.Client the index uses.
type qdrantPoints interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Close() error
}

// QdrantConfig holds the connection settings for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Prefix is prepended to collection names so several deployments can share a server.
	Prefix string
}

// QdrantIndex stores vectors in Qdrant collections using cosine distance.
type QdrantIndex struct {
	client qdrantPoints
	prefix string
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, prefix: cfg.Prefix}, nil
}

func (q *QdrantIndex) name(collection Collection) string {
	return q.prefix + string(collection)
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection Collection, dimensions int) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	if dimensions <= 0 {
		return fmt.Errorf("invalid dimensions %d", dimensions)
	}

	exists, err := q.client.CollectionExists(ctx, q.name(collection))
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.name(collection),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection Collection, entry *Entry) error {
	if err := validateEntry(collection, entry); err != nil {
		return err
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.name(collection),
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(uint64(entry.ID)),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadEntityID:   qdrant.NewValueInt(int64(entry.ID)),
				payloadVisibility: qdrant.NewValueString(entry.Metadata.Visibility()),
				payloadMetadata:   qdrant.NewValueString(string(metadata)),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%d: %w", collection, entry.ID, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, collection Collection, vector []float32, k int, filter *Filter) ([]Match, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.name(collection),
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         qdrantFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, point := range points {
		// Qdrant reports cosine similarity for Distance_Cosine collections.
		matches = append(matches, Match{
			ID:       int32(point.GetId().GetNum()),
			Distance: 1 - point.GetScore(),
		})
	}
	return matches, nil
}

func qdrantFilter(filter *Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	result := &qdrant.Filter{}
	if len(filter.ExcludeIDs) > 0 {
		ids := make([]int64, 0, len(filter.ExcludeIDs))
		for _, id := range filter.ExcludeIDs {
			ids = append(ids, int64(id))
		}
		result.MustNot = append(result.MustNot, qdrant.NewMatchInts(payloadEntityID, ids...))
	}
	if filter.Visibility != "" {
		result.Must = append(result.Must, qdrant.NewMatchKeyword(payloadVisibility, filter.Visibility))
	}
	if len(result.Must) == 0 && len(result.MustNot) == 0 {
		return nil
	}
	return result
}

func (q *QdrantIndex) Delete(ctx context.Context, collection Collection, id int32) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.name(collection),
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(id))),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", collection, id, err)
	}
	return nil
}

func (q *QdrantIndex) Count(ctx context.Context, collection Collection) (int64, error) {
	if err := collection.Validate(); err != nil {
		return 0, err
	}
	exact := true
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.name(collection),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return int64(count), nil
}

// qdrantScrollPage is the number of point ids fetched per scroll request.
const qdrantScrollPage = 1000

func (q *QdrantIndex) IDs(ctx context.Context, collection Collection) ([]int32, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	limit := uint32(qdrantScrollPage)
	ids := []int32{}
	var offset *qdrant.PointId
	for {
		points, next, err := q.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: q.name(collection),
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll %s: %w", collection, err)
		}
		for _, point := range points {
			ids = append(ids, int32(point.GetId().GetNum()))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	slices.Sort(ids)
	return ids, nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
