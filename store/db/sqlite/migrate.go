package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/internal/version"
)

// schema creates the embedding table plus the domain tables the recommender reads.
// In production the domain tables belong to the app service; here they back dev and tests.
const schema = `
CREATE TABLE IF NOT EXISTS migration_history (
	version TEXT NOT NULL PRIMARY KEY,
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	bio TEXT NOT NULL DEFAULT '',
	interests TEXT NOT NULL DEFAULT '[]',
	profile_photo_url TEXT NOT NULL DEFAULT '',
	open_to_friends INTEGER NOT NULL DEFAULT 1,
	is_active INTEGER NOT NULL DEFAULT 1,
	is_verified INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS friendships (
	user1_id INTEGER NOT NULL,
	user2_id INTEGER NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	PRIMARY KEY (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	recipient_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS group_chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	creator_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	members TEXT NOT NULL DEFAULT '[]',
	admins TEXT NOT NULL DEFAULT '[]',
	group_interests TEXT NOT NULL DEFAULT '[]',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS group_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT 'text',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages (group_id, created_ts);

CREATE TABLE IF NOT EXISTS snaps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT '',
	group_ids TEXT NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	story TEXT NOT NULL DEFAULT '',
	location_name TEXT NOT NULL DEFAULT '',
	latitude REAL,
	longitude REAL,
	start_ts BIGINT,
	end_ts BIGINT,
	rsvp_deadline_ts BIGINT,
	expires_ts BIGINT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'public',
	shared_with_groups TEXT NOT NULL DEFAULT '[]',
	max_attendees INTEGER,
	attendee_count INTEGER NOT NULL DEFAULT 0,
	is_premium INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS event_rsvps (
	event_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS embedding_record (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	embedding BLOB NOT NULL,
	model TEXT NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE (entity_type, entity_id)
);
`

// Migrate creates the schema and records the schema version.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO migration_history (version, created_ts) VALUES (?, ?)",
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
