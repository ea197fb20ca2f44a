// Package memory is the minion memory engine. It keeps two layers: a
// bounded in-process buffer of each minion's recent interactions (owned by
// that minion's runtime, used for prompt cues), and a SQLite FTS5 store of
// long-term interaction records with BM25-ranked recall.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store manages the memories table in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given SQLite database. The
// legion schema (memories + memories_fts) must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordParams holds parameters for recording a new memory.
type RecordParams struct {
	MinionID   string
	ChannelID  string
	Content    string
	Kind       string // exchange | observation | lesson
	Confidence float64
}

// Record inserts a memory row. Returns the inserted ID.
func (s *Store) Record(ctx context.Context, p RecordParams) (int64, error) {
	conf := p.Confidence
	if conf == 0 {
		conf = 0.8
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (minion_id, channel_id, content, kind, confidence)
		 VALUES (?, ?, ?, ?, ?)`,
		p.MinionID, p.ChannelID, p.Content, p.Kind, conf)
	if err != nil {
		return 0, fmt.Errorf("memory record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("memory last insert id: %w", err)
	}
	return id, nil
}

// Scored is a recalled memory with its relevance score.
type Scored struct {
	ID         int64
	MinionID   string
	ChannelID  string
	Content    string
	Kind       string
	Confidence float64
	CreatedAt  string
	Score      float64
}

// Recall performs FTS5 BM25-ranked search over one minion's memories.
// Results are scored by BM25 relevance * confidence * time decay with a
// 30-day half-life.
func (s *Store) Recall(ctx context.Context, minionID, query string, limit int) ([]Scored, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.minion_id, COALESCE(m.channel_id, ''), m.content, m.kind,
		       m.confidence, m.created_at,
		       (-bm25(memories_fts)) * m.confidence *
		       POWER(0.5, (julianday('now') - julianday(m.created_at)) / 30.0) AS score
		FROM memories_fts
		JOIN memories m ON memories_fts.rowid = m.id
		WHERE memories_fts MATCH ? AND m.minion_id = ?
		ORDER BY score DESC
		LIMIT ?`,
		sanitizeFTS5Query(query), minionID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory recall: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var m Scored
		if err := rows.Scan(&m.ID, &m.MinionID, &m.ChannelID, &m.Content, &m.Kind,
			&m.Confidence, &m.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("memory recall scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory recall rows: %w", err)
	}
	return out, nil
}

// Forget removes every memory belonging to a minion. Called on despawn.
func (s *Store) Forget(ctx context.Context, minionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE minion_id = ?`, minionID)
	if err != nil {
		return fmt.Errorf("memory forget: %w", err)
	}
	return nil
}

// RecallForPrompt retrieves the most relevant long-term memories for the
// triggering message and formats them as a short cue block. Returns ""
// when nothing relevant is stored.
func (s *Store) RecallForPrompt(ctx context.Context, minionID, query string) (string, error) {
	results, err := s.Recall(ctx, minionID, query, 3)
	if err != nil {
		return "", fmt.Errorf("recall for prompt: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	var lines []string
	lines = append(lines, "Relevant past interactions:")
	for _, m := range results {
		lines = append(lines, "- "+m.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// sanitizeFTS5Query wraps each term in double quotes to prevent FTS5
// operator interpretation (e.g. "and", "or", "not" are FTS5 operators).
func sanitizeFTS5Query(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return query
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.Map(func(r rune) rune {
			if r == '"' {
				return -1
			}
			return r
		}, w)
		if clean != "" {
			quoted = append(quoted, `"`+clean+`"`)
		}
	}
	return strings.Join(quoted, " ")
}
