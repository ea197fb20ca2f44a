package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"legion/pkg/entity"
)

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t entity.Task) error {
	assigned := idsToJSON(t.AssignedTo)
	deps := idsToJSON(t.Dependencies)
	subs := idsToJSON(t.SubtaskIDs)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, assigned_to,
		     dependencies, subtask_ids, parent_id, progress, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Priority, assigned,
		deps, subs, t.ParentID, t.Progress, t.CreatedAt.Format(timeFormat),
		timeOrNull(t.StartedAt), timeOrNull(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns a task by id, or NotFoundError.
func (s *Store) GetTask(ctx context.Context, id string) (*entity.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, COALESCE(description, ''), status, priority, assigned_to,
		        dependencies, subtask_ids, COALESCE(parent_id, ''), progress,
		        created_at, COALESCE(started_at, ''), COALESCE(completed_at, '')
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Entity: "task", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns all tasks ordered by priority (desc) then creation.
func (s *Store) ListTasks(ctx context.Context) ([]entity.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, COALESCE(description, ''), status, priority, assigned_to,
		        dependencies, subtask_ids, COALESCE(parent_id, ''), progress,
		        created_at, COALESCE(started_at, ''), COALESCE(completed_at, '')
		 FROM tasks ORDER BY priority DESC, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []entity.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// UpdateTask replaces the mutable columns of a task row.
func (s *Store) UpdateTask(ctx context.Context, t entity.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, status=?, priority=?, assigned_to=?,
		     dependencies=?, subtask_ids=?, parent_id=?, progress=?, started_at=?, completed_at=?
		 WHERE id=?`,
		t.Title, t.Description, string(t.Status), t.Priority, idsToJSON(t.AssignedTo),
		idsToJSON(t.Dependencies), idsToJSON(t.SubtaskIDs), t.ParentID, t.Progress,
		timeOrNull(t.StartedAt), timeOrNull(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &entity.NotFoundError{Entity: "task", ID: t.ID}
	}
	return nil
}

// DeleteTask removes a task row.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &entity.NotFoundError{Entity: "task", ID: id}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*entity.Task, error) {
	var t entity.Task
	var status, assigned, deps, subs, createdAt, startedAt, completedAt string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority, &assigned,
		&deps, &subs, &t.ParentID, &t.Progress, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = entity.TaskStatus(status)
	t.AssignedTo = idsFromJSON(assigned)
	t.Dependencies = idsFromJSON(deps)
	t.SubtaskIDs = idsFromJSON(subs)
	t.CreatedAt = parseTime(createdAt)
	if startedAt != "" {
		t.StartedAt = parseTime(startedAt)
	}
	if completedAt != "" {
		t.CompletedAt = parseTime(completedAt)
	}
	return &t, nil
}

// idsToJSON converts a string slice to a JSON array string.
func idsToJSON(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// idsFromJSON parses a JSON array string into a string slice.
func idsFromJSON(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// timeOrNull formats a timestamp, or returns NULL for the zero value.
func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(timeFormat)
}
