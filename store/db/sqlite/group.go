package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

func (d *DB) ListGroups(ctx context.Context, find *store.FindGroup) ([]*store.Group, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.MemberID != nil {
		where, args = append(where, "EXISTS (SELECT 1 FROM json_each(group_chats.members) WHERE json_each.value = ?)"), append(args, *find.MemberID)
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = ?"), append(args, *find.IsActive)
	}

	query := `
		SELECT id, creator_id, name, description, members, admins, group_interests, is_active, created_ts, updated_ts
		FROM group_chats
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list groups")
	}
	defer rows.Close()

	list := []*store.Group{}
	for rows.Next() {
		var group store.Group
		var members, admins, interests string
		if err := rows.Scan(
			&group.ID,
			&group.CreatorID,
			&group.Name,
			&group.Description,
			&members,
			&admins,
			&interests,
			&group.IsActive,
			&group.CreatedTs,
			&group.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan group")
		}
		if err := decodeJSONColumn(members, &group.Members); err != nil {
			return nil, errors.Wrapf(err, "group %d members", group.ID)
		}
		if err := decodeJSONColumn(admins, &group.Admins); err != nil {
			return nil, errors.Wrapf(err, "group %d admins", group.ID)
		}
		if err := decodeJSONColumn(interests, &group.GroupInterests); err != nil {
			return nil, errors.Wrapf(err, "group %d interests", group.ID)
		}
		list = append(list, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) ListGroupMessages(ctx context.Context, find *store.FindGroupMessage) ([]*store.GroupMessage, error) {
	where, args := []string{"group_id = ?"}, []any{find.GroupID}

	if find.MessageType != nil {
		where, args = append(where, "message_type = ?"), append(args, *find.MessageType)
	}
	if !find.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}

	limit := find.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `
		SELECT id, group_id, sender_id, content, message_type, is_deleted, created_ts
		FROM group_messages
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list group messages")
	}
	defer rows.Close()

	list := []*store.GroupMessage{}
	for rows.Next() {
		var message store.GroupMessage
		if err := rows.Scan(
			&message.ID,
			&message.GroupID,
			&message.SenderID,
			&message.Content,
			&message.MessageType,
			&message.IsDeleted,
			&message.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan group message")
		}
		list = append(list, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) ListSnaps(ctx context.Context, find *store.FindSnap) ([]*store.Snap, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.GroupID != nil {
		where, args = append(where, "EXISTS (SELECT 1 FROM json_each(snaps.group_ids) WHERE json_each.value = ?)"), append(args, *find.GroupID)
	}

	limit := find.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := `
		SELECT id, sender_id, caption, media_url, media_type, group_ids, created_ts
		FROM snaps
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snaps")
	}
	defer rows.Close()

	list := []*store.Snap{}
	for rows.Next() {
		var snap store.Snap
		var groupIDs string
		if err := rows.Scan(
			&snap.ID,
			&snap.SenderID,
			&snap.Caption,
			&snap.MediaURL,
			&snap.MediaType,
			&groupIDs,
			&snap.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan snap")
		}
		if err := decodeJSONColumn(groupIDs, &snap.GroupIDs); err != nil {
			return nil, errors.Wrapf(err, "snap %d group ids", snap.ID)
		}
		list = append(list, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
