// Package store is the SQLite repository layer for Legion entities. The
// orchestration core treats it as pluggable persistence: all access goes
// through the Store type, and the in-memory runtime remains authoritative
// for live state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"legion/pkg/entity"
)

// timeFormat is the canonical timestamp encoding in every table.
const timeFormat = time.RFC3339Nano

// Store wraps the SQLite database holding all Legion entities.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(SchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle. The schema must already be
// applied. Intended for tests that share a handle across stores.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for packages layered on the same
// database (memory recall, event queries).
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Channels ---

// CreateChannel inserts a channel and its initial member set.
func (s *Store) CreateChannel(ctx context.Context, ch entity.Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create channel begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (id, name, type, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, string(ch.Type), ch.CreatedBy, ch.CreatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	for _, m := range ch.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO channel_members (channel_id, member_id) VALUES (?, ?)`,
			ch.ID, m); err != nil {
			return fmt.Errorf("create channel member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create channel commit: %w", err)
	}
	return nil
}

// GetChannel returns a channel with its member set, or NotFoundError.
func (s *Store) GetChannel(ctx context.Context, id string) (*entity.Channel, error) {
	var ch entity.Channel
	var typ, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, COALESCE(created_by, ''), created_at FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.Name, &typ, &ch.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Entity: "channel", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	ch.Type = entity.ChannelType(typ)
	ch.CreatedAt = parseTime(createdAt)

	members, err := s.ChannelMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	ch.Members = members
	return &ch, nil
}

// ListChannels returns all channels ordered by creation time.
func (s *Store) ListChannels(ctx context.Context) ([]entity.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, COALESCE(created_by, ''), created_at FROM channels ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []entity.Channel
	for rows.Next() {
		var ch entity.Channel
		var typ, createdAt string
		if err := rows.Scan(&ch.ID, &ch.Name, &typ, &ch.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Type = entity.ChannelType(typ)
		ch.CreatedAt = parseTime(createdAt)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	for i := range out {
		members, err := s.ChannelMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Members = members
	}
	return out, nil
}

// DeleteChannel removes a channel, its membership rows, and its messages.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete channel begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &entity.NotFoundError{Entity: "channel", ID: id}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete channel members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete channel messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete channel commit: %w", err)
	}
	return nil
}

// AddMember adds a member to a channel. Adding an existing member is a
// no-op; the caller decides whether to publish an event.
func (s *Store) AddMember(ctx context.Context, channelID, memberID string) error {
	if err := s.requireChannel(ctx, channelID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_members (channel_id, member_id) VALUES (?, ?)`,
		channelID, memberID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember removes a member from a channel.
func (s *Store) RemoveMember(ctx context.Context, channelID, memberID string) error {
	if err := s.requireChannel(ctx, channelID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = ? AND member_id = ?`,
		channelID, memberID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// RemoveMemberEverywhere removes a member from every channel it appears
// in. Used on minion despawn so no residual membership survives.
func (s *Store) RemoveMemberEverywhere(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE member_id = ?`, memberID)
	if err != nil {
		return fmt.Errorf("remove member everywhere: %w", err)
	}
	return nil
}

// ChannelMembers returns the member ids of a channel in insertion order.
func (s *Store) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id FROM channel_members WHERE channel_id = ? ORDER BY added_at, member_id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("channel members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// IsMember reports whether memberID belongs to channelID.
func (s *Store) IsMember(ctx context.Context, channelID, memberID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM channel_members WHERE channel_id = ? AND member_id = ?`,
		channelID, memberID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return n > 0, nil
}

func (s *Store) requireChannel(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM channels WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("require channel: %w", err)
	}
	if n == 0 {
		return &entity.NotFoundError{Entity: "channel", ID: id}
	}
	return nil
}

// --- Messages ---

// AppendMessage appends a message to its channel's stream. A duplicate
// message id is an invariant violation, not a validation error.
func (s *Store) AppendMessage(ctx context.Context, m entity.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE id = ?`, m.ID).Scan(&n); err != nil {
		return fmt.Errorf("check message id: %w", err)
	}
	if n > 0 {
		return &entity.InvariantError{Entity: "message", ID: m.ID, Reason: "duplicate message id"}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, sender_id, sender_type, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.SenderID, string(m.SenderType), m.Content, string(meta),
		m.Timestamp.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns a channel's messages in append order. limit <= 0
// means no limit; a positive limit returns the most recent messages.
func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]entity.Message, error) {
	q := `SELECT id, channel_id, sender_id, sender_type, content, metadata, created_at
	      FROM messages WHERE channel_id = ? ORDER BY seq`
	args := []any{channelID}
	if limit > 0 {
		// Inner query selects the newest rows, outer restores append order.
		q = `SELECT id, channel_id, sender_id, sender_type, content, metadata, created_at FROM (
			SELECT seq, id, channel_id, sender_id, sender_type, content, metadata, created_at
			FROM messages WHERE channel_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []entity.Message
	for rows.Next() {
		var m entity.Message
		var senderType, meta, createdAt string
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &senderType, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SenderType = entity.SenderType(senderType)
		m.Timestamp = parseTime(createdAt)
		if meta != "" && meta != "{}" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// parseTime parses a stored timestamp, falling back to the SQLite default
// datetime format for rows written by datetime('now').
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}
