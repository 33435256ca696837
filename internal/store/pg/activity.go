package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"guildhall.org/internal/activity"
)

const pgErrUniqueViolation = "23505"

// ActivitySink persists activity events. It implements activity.Notifier.
type ActivitySink struct {
	db *sql.DB
}

var _ activity.Notifier = (*ActivitySink)(nil)

func NewActivitySink(db *sql.DB) *ActivitySink { return &ActivitySink{db: db} }

// Notify stores evt. Redelivery of a stored event is a no-op.
func (s *ActivitySink) Notify(ctx context.Context, evt activity.Event) error {
	evt = evt.Stamp()
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into activity_events(id, kind, org_id, actor, payload, occurred_at)
		values ($1,$2,$3,$4,$5,$6)
	`, evt.ID, string(evt.Kind), evt.OrganizationID, evt.Actor, payload, evt.OccurredAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return nil
	}
	return err
}

// Recent returns up to limit events of orgID, newest first.
func (s *ActivitySink) Recent(ctx context.Context, orgID string, limit int) ([]activity.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select payload from activity_events
		where org_id=$1
		order by occurred_at desc, id desc
		limit $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]activity.Event, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var evt activity.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
