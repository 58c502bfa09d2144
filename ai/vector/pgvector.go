package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGVectorIndex keeps vectors in the vector_index_entry table of the primary PostgreSQL database.
// The table and its HNSW index are created by the store migration.
type PGVectorIndex struct {
	db *sql.DB
}

// NewPGVectorIndex creates an index over an open PostgreSQL connection.
func NewPGVectorIndex(db *sql.DB) *PGVectorIndex {
	return &PGVectorIndex{db: db}
}

func (p *PGVectorIndex) EnsureCollection(_ context.Context, collection Collection, dimensions int) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	if dimensions <= 0 {
		return fmt.Errorf("invalid dimensions %d", dimensions)
	}
	return nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, collection Collection, entry *Entry) error {
	if err := validateEntry(collection, entry); err != nil {
		return err
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	stmt := `
		INSERT INTO vector_index_entry (collection, entity_id, embedding, metadata, visibility, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection, entity_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			visibility = EXCLUDED.visibility,
			updated_ts = EXCLUDED.updated_ts`
	_, err = p.db.ExecContext(ctx, stmt,
		string(collection),
		entry.ID,
		pgvector.NewVector(entry.Vector),
		string(metadata),
		entry.Metadata.Visibility(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%d: %w", collection, entry.ID, err)
	}
	return nil
}

func (p *PGVectorIndex) Query(ctx context.Context, collection Collection, vector []float32, k int, filter *Filter) ([]Match, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	query, args := buildPGVectorQuery(collection, vector, k, filter)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var match Match
		var distance float64
		if err := rows.Scan(&match.ID, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		match.Distance = float32(distance)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func buildPGVectorQuery(collection Collection, vector []float32, k int, filter *Filter) (string, []any) {
	where := []string{"collection = $2"}
	args := []any{pgvector.NewVector(vector), string(collection)}

	if filter != nil {
		if len(filter.ExcludeIDs) > 0 {
			args = append(args, pq.Array(filter.ExcludeIDs))
			where = append(where, fmt.Sprintf("NOT (entity_id = ANY($%d))", len(args)))
		}
		if filter.Visibility != "" {
			args = append(args, filter.Visibility)
			where = append(where, fmt.Sprintf("visibility = $%d", len(args)))
		}
	}
	args = append(args, k)

	query := `
		SELECT entity_id, embedding <=> $1 AS distance
		FROM vector_index_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY distance, entity_id
		LIMIT ` + fmt.Sprintf("$%d", len(args))
	return query, args
}

func (p *PGVectorIndex) Delete(ctx context.Context, collection Collection, id int32) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM vector_index_entry WHERE collection = $1 AND entity_id = $2`,
		string(collection), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", collection, id, err)
	}
	return nil
}

func (p *PGVectorIndex) Count(ctx context.Context, collection Collection) (int64, error) {
	if err := collection.Validate(); err != nil {
		return 0, err
	}
	var count int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_index_entry WHERE collection = $1`,
		string(collection)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

func (p *PGVectorIndex) IDs(ctx context.Context, collection Collection) ([]int32, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT entity_id FROM vector_index_entry WHERE collection = $1 ORDER BY entity_id`,
		string(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", collection, err)
	}
	defer rows.Close()

	ids := []int32{}
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", collection, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", collection, err)
	}
	return ids, nil
}
