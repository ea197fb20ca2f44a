// Package task implements the task orchestrator: a store-backed state
// machine over task lifecycles. Every successful mutation ends by
// publishing the matching task.* event; callers observe downstream effects
// through the event stream, not through return values.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"legion/pkg/bus"
	"legion/pkg/entity"
	"legion/pkg/store"
)

const source = "orchestrator"

// Orchestrator owns all task state transitions. Mutations are serialized
// by a single mutex so the read-check-write sequences behind each
// transition cannot interleave.
type Orchestrator struct {
	bus *bus.Bus
	st  *store.Store

	mu sync.Mutex

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// New creates an Orchestrator over the given bus and store.
func New(b *bus.Bus, st *store.Store) *Orchestrator {
	return &Orchestrator{bus: b, st: st, nowFunc: time.Now}
}

// CreateParams describes a new task.
type CreateParams struct {
	Title        string
	Description  string
	Priority     int
	Dependencies []string
	ParentID     string
}

// Create records a new pending task and publishes task.created. Every
// dependency must name an existing task, and adding the new task's edges
// must keep the dependency graph acyclic.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*entity.Task, error) {
	if p.Title == "" {
		return nil, &entity.ValidationError{Field: "title", Reason: "empty"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	id := uuid.NewString()
	if err := o.checkAcyclic(ctx, id, p.Dependencies); err != nil {
		return nil, err
	}

	t := entity.Task{
		ID:           id,
		Title:        p.Title,
		Description:  p.Description,
		Status:       entity.TaskPending,
		Priority:     p.Priority,
		Dependencies: p.Dependencies,
		ParentID:     p.ParentID,
		CreatedAt:    o.nowFunc(),
	}
	if err := o.st.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	o.bus.Publish(bus.TaskCreated, map[string]any{
		"task_id":  t.ID,
		"title":    t.Title,
		"priority": t.Priority,
	}, source)
	return &t, nil
}

// Assign moves a pending or decomposed task to assigned. The target set
// must be non-empty.
func (o *Orchestrator) Assign(ctx context.Context, id string, minionIDs []string) (*entity.Task, error) {
	if len(minionIDs) == 0 {
		return nil, &entity.ValidationError{Field: "minion_ids", Reason: "empty"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != entity.TaskPending && t.Status != entity.TaskDecomposed {
		return nil, transitionError(t, entity.TaskAssigned)
	}

	t.Status = entity.TaskAssigned
	t.AssignedTo = minionIDs
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("assign task %s: %w", id, err)
	}

	o.bus.Publish(bus.TaskAssigned, map[string]any{
		"task_id":    t.ID,
		"minion_ids": minionIDs,
	}, source)
	return t, nil
}

// Start moves an assigned task to in_progress. Every dependency must have
// completed first; an incomplete dependency blocks the start.
func (o *Orchestrator) Start(ctx context.Context, id string) (*entity.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != entity.TaskAssigned {
		return nil, transitionError(t, entity.TaskInProgress)
	}
	for _, depID := range t.Dependencies {
		dep, err := o.load(ctx, depID)
		if err != nil {
			return nil, err
		}
		if dep.Status != entity.TaskCompleted {
			return nil, &entity.InvariantError{
				Entity: "task", ID: id,
				Reason: fmt.Sprintf("dependency %s is %s, not completed", depID, dep.Status),
			}
		}
	}

	t.Status = entity.TaskInProgress
	t.StartedAt = o.nowFunc()
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("start task %s: %w", id, err)
	}

	o.publishStatus(t)
	return t, nil
}

// UpdateProgress sets a task's progress. A value of 100 or more completes
// the task; otherwise a task not yet in_progress is moved there first.
func (o *Orchestrator) UpdateProgress(ctx context.Context, id string, progress int) (*entity.Task, error) {
	if progress < 0 {
		return nil, &entity.ValidationError{Field: "progress", Reason: "negative"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, transitionError(t, entity.TaskInProgress)
	}

	if progress >= 100 {
		t.Progress = 100
		t.Status = entity.TaskCompleted
		t.CompletedAt = o.nowFunc()
		if err := o.st.UpdateTask(ctx, *t); err != nil {
			return nil, fmt.Errorf("complete task %s: %w", id, err)
		}
		o.bus.Publish(bus.TaskCompleted, map[string]any{"task_id": t.ID}, source)
		return t, nil
	}

	t.Progress = progress
	if t.Status != entity.TaskInProgress {
		t.Status = entity.TaskInProgress
		if t.StartedAt.IsZero() {
			t.StartedAt = o.nowFunc()
		}
	}
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}

	o.bus.Publish(bus.TaskProgressUpdate, map[string]any{
		"task_id":  t.ID,
		"progress": t.Progress,
	}, source)
	return t, nil
}

// Fail moves any non-terminal task to failed.
func (o *Orchestrator) Fail(ctx context.Context, id, reason string) (*entity.Task, error) {
	return o.terminate(ctx, id, entity.TaskFailed, bus.TaskFailed, map[string]any{"reason": reason})
}

// Cancel moves any non-terminal task to cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*entity.Task, error) {
	return o.terminate(ctx, id, entity.TaskCancelled, bus.TaskCancelled, nil)
}

func (o *Orchestrator) terminate(ctx context.Context, id string, status entity.TaskStatus, evType bus.EventType, extra map[string]any) (*entity.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, transitionError(t, status)
	}

	t.Status = status
	t.CompletedAt = o.nowFunc()
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("%s task %s: %w", status, id, err)
	}

	data := map[string]any{"task_id": t.ID}
	for k, v := range extra {
		data[k] = v
	}
	o.bus.Publish(evType, data, source)
	return t, nil
}

// SubtaskSpec describes one child task created by decomposition.
type SubtaskSpec struct {
	Title       string
	Description string
	Priority    int
}

// Decompose splits a pending task into child tasks. The parent moves to
// decomposed, each child is created pending with a parent link, and a
// task.created event is published per child.
func (o *Orchestrator) Decompose(ctx context.Context, id string, subtasks []SubtaskSpec) (*entity.Task, error) {
	if len(subtasks) == 0 {
		return nil, &entity.ValidationError{Field: "subtasks", Reason: "empty"}
	}
	for _, s := range subtasks {
		if s.Title == "" {
			return nil, &entity.ValidationError{Field: "subtasks.title", Reason: "empty"}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != entity.TaskPending {
		return nil, transitionError(t, entity.TaskDecomposed)
	}

	now := o.nowFunc()
	children := make([]entity.Task, 0, len(subtasks))
	for _, s := range subtasks {
		children = append(children, entity.Task{
			ID:          uuid.NewString(),
			Title:       s.Title,
			Description: s.Description,
			Status:      entity.TaskPending,
			Priority:    s.Priority,
			ParentID:    t.ID,
			CreatedAt:   now,
		})
	}
	for _, c := range children {
		if err := o.st.CreateTask(ctx, c); err != nil {
			return nil, fmt.Errorf("decompose task %s: %w", id, err)
		}
		t.SubtaskIDs = append(t.SubtaskIDs, c.ID)
	}

	t.Status = entity.TaskDecomposed
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("decompose task %s: %w", id, err)
	}

	for _, c := range children {
		o.bus.Publish(bus.TaskCreated, map[string]any{
			"task_id":   c.ID,
			"title":     c.Title,
			"priority":  c.Priority,
			"parent_id": t.ID,
		}, source)
	}
	o.publishStatus(t)
	return t, nil
}

// AddDependency gates a task on another task. Rejected when the task has
// already left pending, or when the new edge would close a dependency
// cycle.
func (o *Orchestrator) AddDependency(ctx context.Context, id, depID string) (*entity.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != entity.TaskPending {
		return nil, &entity.InvariantError{Entity: "task", ID: id, Reason: "dependencies are fixed after leaving pending"}
	}
	for _, d := range t.Dependencies {
		if d == depID {
			return t, nil
		}
	}
	if err := o.checkAcyclic(ctx, id, []string{depID}); err != nil {
		return nil, err
	}

	t.Dependencies = append(t.Dependencies, depID)
	if err := o.st.UpdateTask(ctx, *t); err != nil {
		return nil, fmt.Errorf("add dependency to task %s: %w", id, err)
	}
	return t, nil
}

// Delete removes a task outright and publishes task.deleted. An
// in_progress task must be cancelled or failed first.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == entity.TaskInProgress {
		return &entity.InvariantError{Entity: "task", ID: id, Reason: "cannot delete a task in progress"}
	}
	if err := o.st.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	o.bus.Publish(bus.TaskDeleted, map[string]any{"task_id": id}, source)
	return nil
}

// Get returns one task.
func (o *Orchestrator) Get(ctx context.Context, id string) (*entity.Task, error) {
	return o.st.GetTask(ctx, id)
}

// List returns all tasks.
func (o *Orchestrator) List(ctx context.Context) ([]entity.Task, error) {
	return o.st.ListTasks(ctx)
}

func (o *Orchestrator) load(ctx context.Context, id string) (*entity.Task, error) {
	t, err := o.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (o *Orchestrator) publishStatus(t *entity.Task) {
	o.bus.Publish(bus.TaskStatusChanged, map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
	}, source)
}

// checkAcyclic verifies that a task with the given id and dependency list
// would not close a cycle in the dependency graph. Each dependency must
// also name an existing task.
func (o *Orchestrator) checkAcyclic(ctx context.Context, id string, deps []string) error {
	seen := map[string]bool{}
	var walk func(string) error
	walk = func(cur string) error {
		if cur == id {
			return &entity.InvariantError{Entity: "task", ID: id, Reason: "dependency cycle"}
		}
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		t, err := o.st.GetTask(ctx, cur)
		if err != nil {
			return err
		}
		for _, next := range t.Dependencies {
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}
	for _, dep := range deps {
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}

func transitionError(t *entity.Task, to entity.TaskStatus) error {
	return &entity.InvariantError{
		Entity: "task", ID: t.ID,
		Reason: fmt.Sprintf("illegal transition %s -> %s", t.Status, to),
	}
}
