package vector

import (
	"context"
	"math"
	"slices"
	"sync"
)

// MemoryIndex is a brute-force in-process index for development and tests.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[Collection]map[int32]*Entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[Collection]map[int32]*Entry)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, collection Collection, _ int) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[int32]*Entry)
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection Collection, entry *Entry) error {
	if err := validateEntry(collection, entry); err != nil {
		return err
	}
	stored := &Entry{ID: entry.ID, Vector: slices.Clone(entry.Vector), Metadata: entry.Metadata}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.collections[collection]
	if !ok {
		entries = make(map[int32]*Entry)
		m.collections[collection] = entries
	}
	entries[entry.ID] = stored
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, collection Collection, vector []float32, k int, filter *Filter) ([]Match, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.collections[collection]))
	for _, entry := range m.collections[collection] {
		if !filter.matches(entry) {
			continue
		}
		matches = append(matches, Match{ID: entry.ID, Distance: CosineDistance(vector, entry.Vector)})
	}
	m.mu.RUnlock()

	slices.SortFunc(matches, func(a, b Match) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		return int(a.ID) - int(b.ID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) Delete(_ context.Context, collection Collection, id int32) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, collection Collection) (int64, error) {
	if err := collection.Validate(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}

func (m *MemoryIndex) IDs(_ context.Context, collection Collection) ([]int32, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]int32, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}

// CosineDistance returns 1 - cosine similarity. Mismatched or zero vectors are at distance 1.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}
