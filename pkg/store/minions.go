package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"legion/pkg/entity"
)

// PutMinion inserts or replaces a minion row.
func (s *Store) PutMinion(ctx context.Context, m entity.Minion) error {
	persona, err := json.Marshal(m.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	emotional, err := json.Marshal(m.Emotional)
	if err != nil {
		return fmt.Errorf("marshal emotional state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO minions (id, persona, emotional, status, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET persona=excluded.persona,
		     emotional=excluded.emotional, status=excluded.status`,
		m.ID, string(persona), string(emotional), string(m.Status),
		m.CreatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("put minion: %w", err)
	}
	return nil
}

// GetMinion returns a minion by id, or NotFoundError.
func (s *Store) GetMinion(ctx context.Context, id string) (*entity.Minion, error) {
	var m entity.Minion
	var persona, emotional, status, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, persona, emotional, status, created_at FROM minions WHERE id = ?`, id).
		Scan(&m.ID, &persona, &emotional, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Entity: "minion", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get minion: %w", err)
	}
	if err := json.Unmarshal([]byte(persona), &m.Persona); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	if err := json.Unmarshal([]byte(emotional), &m.Emotional); err != nil {
		return nil, fmt.Errorf("unmarshal emotional state: %w", err)
	}
	m.Status = entity.MinionStatus(status)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// ListMinions returns all minions that are not despawned.
func (s *Store) ListMinions(ctx context.Context) ([]entity.Minion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona, emotional, status, created_at FROM minions
		 WHERE status != ? ORDER BY created_at, id`, string(entity.StatusDespawned))
	if err != nil {
		return nil, fmt.Errorf("list minions: %w", err)
	}
	defer rows.Close()

	var out []entity.Minion
	for rows.Next() {
		var m entity.Minion
		var persona, emotional, status, createdAt string
		if err := rows.Scan(&m.ID, &persona, &emotional, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan minion: %w", err)
		}
		if err := json.Unmarshal([]byte(persona), &m.Persona); err != nil {
			return nil, fmt.Errorf("unmarshal persona: %w", err)
		}
		if err := json.Unmarshal([]byte(emotional), &m.Emotional); err != nil {
			return nil, fmt.Errorf("unmarshal emotional state: %w", err)
		}
		m.Status = entity.MinionStatus(status)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate minions: %w", err)
	}
	return out, nil
}

// UpdateMinionStatus sets a minion's lifecycle status.
func (s *Store) UpdateMinionStatus(ctx context.Context, id string, status entity.MinionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE minions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update minion status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &entity.NotFoundError{Entity: "minion", ID: id}
	}
	return nil
}

// UpdateMinionEmotional persists a minion's emotional state snapshot.
func (s *Store) UpdateMinionEmotional(ctx context.Context, id string, es entity.EmotionalState) error {
	emotional, err := json.Marshal(es)
	if err != nil {
		return fmt.Errorf("marshal emotional state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE minions SET emotional = ? WHERE id = ?`, string(emotional), id)
	if err != nil {
		return fmt.Errorf("update minion emotional: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &entity.NotFoundError{Entity: "minion", ID: id}
	}
	return nil
}
