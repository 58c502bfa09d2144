package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/internal/version"
)

// schemaTemplate is formatted with the embedding dimension.
// Domain tables are created only when the app service has not created them already.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS migration_history (
	version TEXT NOT NULL PRIMARY KEY,
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	bio TEXT NOT NULL DEFAULT '',
	interests JSONB NOT NULL DEFAULT '[]',
	profile_photo_url TEXT NOT NULL DEFAULT '',
	open_to_friends BOOLEAN NOT NULL DEFAULT TRUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_verified BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE IF NOT EXISTS friendships (
	user1_id INTEGER NOT NULL,
	user2_id INTEGER NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	PRIMARY KEY (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id SERIAL PRIMARY KEY,
	sender_id INTEGER NOT NULL,
	recipient_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE IF NOT EXISTS group_chats (
	id SERIAL PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	members JSONB NOT NULL DEFAULT '[]',
	admins JSONB NOT NULL DEFAULT '[]',
	group_interests JSONB NOT NULL DEFAULT '[]',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE IF NOT EXISTS group_messages (
	id SERIAL PRIMARY KEY,
	group_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT 'text',
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages (group_id, created_ts DESC);

CREATE TABLE IF NOT EXISTS snaps (
	id SERIAL PRIMARY KEY,
	sender_id INTEGER NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT '',
	group_ids JSONB NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE IF NOT EXISTS events (
	id SERIAL PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	story TEXT NOT NULL DEFAULT '',
	location_name TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	start_ts BIGINT,
	end_ts BIGINT,
	rsvp_deadline_ts BIGINT,
	expires_ts BIGINT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'public',
	shared_with_groups JSONB NOT NULL DEFAULT '[]',
	max_attendees INTEGER,
	attendee_count INTEGER NOT NULL DEFAULT 0,
	is_premium BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE IF NOT EXISTS event_rsvps (
	event_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS embedding_record (
	id SERIAL PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	model TEXT NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS vector_index_entry (
	collection TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	visibility TEXT NOT NULL DEFAULT '',
	updated_ts BIGINT NOT NULL,
	PRIMARY KEY (collection, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_vector_index_entry_hnsw ON vector_index_entry USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the schema and records the schema version.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(schemaTemplate, d.embeddingDimensions())); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO migration_history (version, created_ts) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		version.SchemaVersion, time.Now().Unix(),
	); err != nil {
		return errors.Wrap(err, "failed to record migration")
	}
	return tx.Commit()
}

func (d *DB) ListMigrationHistory(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT version FROM migration_history ORDER BY created_ts")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migration history")
	}
	defer rows.Close()

	list := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
