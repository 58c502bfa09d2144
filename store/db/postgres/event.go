package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/store"
)

func (d *DB) ListEvents(ctx context.Context, find *store.FindEvent) ([]*store.Event, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.IDList != nil {
		if len(find.IDList) == 0 {
			return []*store.Event{}, nil
		}
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDList))
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = "+placeholder(len(args)+1)), append(args, *find.IsActive)
	}
	if find.Visibility != nil {
		where, args = append(where, "visibility = "+placeholder(len(args)+1)), append(args, string(*find.Visibility))
	}

	query := `
		SELECT id, creator_id, title, description, story, location_name, latitude, longitude,
			start_ts, end_ts, rsvp_deadline_ts, expires_ts, visibility, shared_with_groups,
			max_attendees, attendee_count, is_premium, is_active, created_ts
		FROM events
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	list := []*store.Event{}
	for rows.Next() {
		var event store.Event
		var latitude, longitude sql.NullFloat64
		var startTs, endTs, deadlineTs sql.NullInt64
		var maxAttendees sql.NullInt32
		var visibility string
		var sharedWithGroups []byte
		if err := rows.Scan(
			&event.ID,
			&event.CreatorID,
			&event.Title,
			&event.Description,
			&event.Story,
			&event.LocationName,
			&latitude,
			&longitude,
			&startTs,
			&endTs,
			&deadlineTs,
			&event.ExpiresTs,
			&visibility,
			&sharedWithGroups,
			&maxAttendees,
			&event.AttendeeCount,
			&event.IsPremium,
			&event.IsActive,
			&event.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		event.Visibility = store.EventVisibility(visibility)
		if latitude.Valid {
			event.Latitude = &latitude.Float64
		}
		if longitude.Valid {
			event.Longitude = &longitude.Float64
		}
		if startTs.Valid {
			event.StartTs = &startTs.Int64
		}
		if endTs.Valid {
			event.EndTs = &endTs.Int64
		}
		if deadlineTs.Valid {
			event.RSVPDeadlineTs = &deadlineTs.Int64
		}
		if maxAttendees.Valid {
			event.MaxAttendees = &maxAttendees.Int32
		}
		if err := decodeJSONB(sharedWithGroups, &event.SharedWithGroups); err != nil {
			return nil, errors.Wrapf(err, "event %d shared groups", event.ID)
		}
		list = append(list, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) ListEventRSVPs(ctx context.Context, find *store.FindEventRSVP) ([]*store.EventRSVP, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.EventID != nil {
		where, args = append(where, "event_id = "+placeholder(len(args)+1)), append(args, *find.EventID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}

	query := `
		SELECT event_id, user_id, status, created_ts
		FROM event_rsvps
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY event_id, user_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list event rsvps")
	}
	defer rows.Close()

	list := []*store.EventRSVP{}
	for rows.Next() {
		var rsvp store.EventRSVP
		var status string
		if err := rows.Scan(&rsvp.EventID, &rsvp.UserID, &status, &rsvp.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan event rsvp")
		}
		rsvp.Status = store.RSVPStatus(status)
		list = append(list, &rsvp)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
