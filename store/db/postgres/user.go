package postgres

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

// decodeJSONB decodes a JSONB column, treating NULL or empty as the zero value.
func decodeJSONB[T any](raw []byte, dest *T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrap(err, "failed to decode jsonb column")
	}
	return nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.IDList != nil {
		if len(find.IDList) == 0 {
			return []*store.User{}, nil
		}
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDList))
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = "+placeholder(len(args)+1)), append(args, *find.IsActive)
	}

	query := `
		SELECT id, username, bio, interests, profile_photo_url, open_to_friends, is_active, is_verified, created_ts, updated_ts
		FROM users
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	list := []*store.User{}
	for rows.Next() {
		var user store.User
		var interests []byte
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Bio,
			&interests,
			&user.ProfilePhotoURL,
			&user.OpenToFriends,
			&user.IsActive,
			&user.IsVerified,
			&user.CreatedTs,
			&user.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		if err := decodeJSONB(interests, &user.Interests); err != nil {
			return nil, errors.Wrapf(err, "user %d interests", user.ID)
		}
		list = append(list, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
