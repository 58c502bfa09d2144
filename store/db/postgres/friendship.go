package postgres

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

func (d *DB) ListFriendIDs(ctx context.Context, userID int32) ([]int32, error) {
	query := `
		SELECT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END AS friend_id
		FROM friendships
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY friend_id`
	return d.queryIDs(ctx, query, userID)
}

func (d *DB) ListFriendRequests(ctx context.Context, find *store.FindFriendRequest) ([]*store.FriendRequest, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		args = append(args, *find.UserID)
		where = append(where, "(sender_id = "+placeholder(len(args))+" OR recipient_id = "+placeholder(len(args))+")")
	}
	if len(find.StatusList) > 0 {
		statuses := make([]string, 0, len(find.StatusList))
		for _, status := range find.StatusList {
			statuses = append(statuses, string(status))
		}
		where, args = append(where, "status = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(statuses))
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
