package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"legion/pkg/bus"
)

// EventRow is one row of the runtime event log.
type EventRow struct {
	ID        int64
	EventID   string
	Type      string
	Source    string
	Data      map[string]any
	CreatedAt time.Time
}

// AppendEvent records a published bus event in the event log. Designed to
// be installed as the bus Recorder: failures are swallowed because the
// event log is observability, not a delivery guarantee.
func (s *Store) AppendEvent(ev bus.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, _ = s.db.Exec(
		`INSERT INTO events (event_id, type, source, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Source, string(data), ev.Timestamp.Format(timeFormat))
}

// EventQueryOpts specifies filter criteria for querying the event log.
type EventQueryOpts struct {
	// Type filters to a specific event type (e.g. "channel.message").
	Type string

	// Source filters to a specific publisher.
	Source string

	// After filters events created after this time (inclusive).
	After *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// QueryEvents retrieves logged events matching the given criteria, newest
// first.
func (s *Store) QueryEvents(ctx context.Context, opts EventQueryOpts) ([]EventRow, error) {
	query := `SELECT id, event_id, type, source, COALESCE(data, '{}'), created_at FROM events WHERE 1=1`
	var conditions []string
	var args []any

	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, opts.Source)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.Format(timeFormat))
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var data, createdAt string
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.Source, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
