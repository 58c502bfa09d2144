package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

// float32ArrayToBLOB encodes a vector as little-endian float32s.
// dim is the expected dimension; 0 disables the check.
func float32ArrayToBLOB(vec []float32, dim int) ([]byte, error) {
	if dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("invalid vector dimension: got %d, want %d", len(vec), dim)
	}

	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf, nil
}

// blobToFloat32Array decodes a little-endian float32 BLOB.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vec, nil
}

// UpsertEmbeddingRecord inserts or replaces the record for (entity_type, entity_id).
func (d *DB) UpsertEmbeddingRecord(ctx context.Context, upsert *store.EmbeddingRecord) (*store.EmbeddingRecord, error) {
	blob, err := float32ArrayToBLOB(upsert.Embedding, d.embeddingDimensions())
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO embedding_record (entity_type, entity_id, embedding, model, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id)
		DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		string(upsert.EntityType),
		upsert.EntityID,
		blob,
		upsert.Model,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert embedding record")
	}

	return upsert, nil
}

// ListEmbeddingRecords lists embedding records.
func (d *DB) ListEmbeddingRecords(ctx context.Context, find *store.FindEmbeddingRecord) ([]*store.EmbeddingRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.EntityType != nil {
		where, args = append(where, "entity_type = ?"), append(args, string(*find.EntityType))
	}
	if find.EntityID != nil {
		where, args = append(where, "entity_id = ?"), append(args, *find.EntityID)
	}
	orderBy := "updated_ts DESC, id DESC"
	if find.AfterEntityID != nil {
		where, args = append(where, "entity_id > ?"), append(args, *find.AfterEntityID)
		orderBy = "entity_id ASC, id ASC"
	}

	query := `
		SELECT id, entity_type, entity_id, embedding, model, created_ts, updated_ts
		FROM embedding_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list embedding records")
	}
	defer rows.Close()

	list := []*store.EmbeddingRecord{}
	for rows.Next() {
		var record store.EmbeddingRecord
		var entityType string
		var blob []byte
		if err := rows.Scan(
			&record.ID,
			&entityType,
			&record.EntityID,
			&blob,
			&record.Model,
			&record.CreatedTs,
			&record.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding record")
		}
		record.EntityType = store.EntityType(entityType)
		if record.Embedding, err = blobToFloat32Array(blob); err != nil {
			return nil, errors.Wrapf(err, "corrupt embedding for %s %d", entityType, record.EntityID)
		}
		list = append(list, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteEmbeddingRecord deletes an embedding record. Missing records are ignored.
func (d *DB) DeleteEmbeddingRecord(ctx context.Context, delete *store.DeleteEmbeddingRecord) error {
	stmt := `DELETE FROM embedding_record WHERE entity_type = ? AND entity_id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, string(delete.EntityType), delete.EntityID); err != nil {
		return errors.Wrap(err, "failed to delete embedding record")
	}
	return nil
}

func (d *DB) CountEmbeddingRecords(ctx context.Context, entityType store.EntityType) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding_record WHERE entity_type = ?`, string(entityType),
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count embedding records")
	}
	return count, nil
}

// ListEntitiesNeedingEmbedding lists active entities without a record or with one older than UpdatedBefore.
func (d *DB) ListEntitiesNeedingEmbedding(ctx context.Context, find *store.FindEntitiesNeedingEmbedding) ([]int32, error) {
	table, err := entityTable(find.EntityType)
	if err != nil {
		return nil, err
	}

	args := []any{string(find.EntityType)}
	stale := "e.id IS NULL"
	if find.UpdatedBefore != nil {
		stale = "(e.id IS NULL OR e.updated_ts < ?)"
		args = append(args, *find.UpdatedBefore)
	}
	args = append(args, find.Limit)

	query := `
		SELECT t.id
		FROM ` + table + ` t
		LEFT JOIN embedding_record e ON e.entity_type = ? AND e.entity_id = t.id
		WHERE t.is_active = 1 AND ` + stale + `
		ORDER BY COALESCE(e.updated_ts, 0), t.id
		LIMIT ?`

	return d.queryIDs(ctx, query, args...)
}

// ListOrphanedEmbeddingRecords lists records whose entity is inactive or gone.
func (d *DB) ListOrphanedEmbeddingRecords(ctx context.Context, entityType store.EntityType) ([]int32, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT e.entity_id
		FROM embedding_record e
		LEFT JOIN ` + table + ` t ON t.id = e.entity_id
		WHERE e.entity_type = ? AND (t.id IS NULL OR t.is_active = 0)
		ORDER BY e.entity_id`

	return d.queryIDs(ctx, query, string(entityType))
}

func (d *DB) queryIDs(ctx context.Context, query string, args ...any) ([]int32, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ids")
	}
	defer rows.Close()

	ids := []int32{}
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func entityTable(entityType store.EntityType) (string, error) {
	switch entityType {
	case store.EntityTypeUser:
		return "users", nil
	case store.EntityTypeGroup:
		return "group_chats", nil
	case store.EntityTypeEvent:
		return "events", nil
	default:
		return "", errors.Errorf("invalid entity type: %q", string(entityType))
	}
}
