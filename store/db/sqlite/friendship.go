package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

func (d *DB) ListFriendIDs(ctx context.Context, userID int32) ([]int32, error) {
	query := `
		SELECT CASE WHEN user1_id = ? THEN user2_id ELSE user1_id END
		FROM friendships
		WHERE user1_id = ? OR user2_id = ?
		ORDER BY 1`
	return d.queryIDs(ctx, query, userID, userID, userID)
}

func (d *DB) ListFriendRequests(ctx context.Context, find *store.FindFriendRequest) ([]*store.FriendRequest, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "(sender_id = ? OR recipient_id = ?)"), append(args, *find.UserID, *find.UserID)
	}
	if len(find.StatusList) > 0 {
		for _, status := range find.StatusList {
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+placeholders(len(find.StatusList))+")")
	}

	query := `
		SELECT id, sender_id, recipient_id, status, created_ts
		FROM friend_requests
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list friend requests")
	}
	defer rows.Close()

	list := []*store.FriendRequest{}
	for rows.Next() {
		var request store.FriendRequest
		var status string
		if err := rows.Scan(&request.ID, &request.SenderID, &request.RecipientID, &status, &request.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan friend request")
		}
		request.Status = store.FriendRequestStatus(status)
		list = append(list, &request)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
