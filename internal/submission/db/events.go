package db

import (
	"context"
	"time"
)

// SubmissionEvent はsubmission_eventsテーブルの1行。
type SubmissionEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	Version       int64
	Actor         string
	CreatedAt     time.Time
}

const appendEvent = `
INSERT INTO submission_events (id, aggregate_id, aggregate_type, event_type, data, version, actor, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// AppendEventParams はAppendEventの引数。
type AppendEventParams struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	Version       int64
	Actor         string
	CreatedAt     time.Time
}

// AppendEvent はイベントを1件追記する。同じ投稿・バージョンのイベントは登録できない。
func (q *Queries) AppendEvent(ctx context.Context, arg AppendEventParams) error {
	_, err := q.db.ExecContext(ctx, appendEvent,
		arg.ID,
		arg.AggregateID,
		arg.AggregateType,
		arg.EventType,
		arg.Data,
		arg.Version,
		arg.Actor,
		arg.CreatedAt,
	)
	return err
}

const getLatestVersion = `SELECT COALESCE(MAX(version), 0) FROM submission_events WHERE aggregate_id = ?`

// GetLatestVersion は投稿の最新イベントのバージョンを返す。イベントが無い場合は0。
func (q *Queries) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, getLatestVersion, aggregateID).Scan(&version)
	return version, err
}

const listEventsByAggregate = `
SELECT id, aggregate_id, aggregate_type, event_type, data, version, actor, created_at
FROM submission_events
WHERE aggregate_id = ?
ORDER BY version ASC
`

// ListEventsByAggregate は投稿のイベントを古い順に取得する。
func (q *Queries) ListEventsByAggregate(ctx context.Context, aggregateID string) ([]SubmissionEvent, error) {
	rows, err := q.db.QueryContext(ctx, listEventsByAggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SubmissionEvent
	for rows.Next() {
		var i SubmissionEvent
		if err := rows.Scan(
			&i.ID,
			&i.AggregateID,
			&i.AggregateType,
			&i.EventType,
			&i.Data,
			&i.Version,
			&i.Actor,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
