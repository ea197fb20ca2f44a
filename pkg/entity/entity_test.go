package entity

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskPending, false},
		{TaskDecomposed, false},
		{TaskAssigned, false},
		{TaskInProgress, false},
		{TaskCompleted, true},
		{TaskFailed, true},
		{TaskCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorKindsDiscriminate(t *testing.T) {
	t.Parallel()

	validation := fmt.Errorf("create channel: %w", &ValidationError{Field: "name", Reason: "empty"})
	invariant := fmt.Errorf("start task: %w", &InvariantError{Entity: "task", ID: "t1", Reason: "terminal"})
	notFound := fmt.Errorf("get minion: %w", &NotFoundError{Entity: "minion", ID: "echo"})

	var ve *ValidationError
	if !errors.As(validation, &ve) || ve.Field != "name" {
		t.Errorf("validation error not discriminated: %v", validation)
	}
	var ie *InvariantError
	if errors.As(validation, &ie) {
		t.Error("validation error must not match InvariantError")
	}
	if !errors.As(invariant, &ie) || ie.ID != "t1" {
		t.Errorf("invariant error not discriminated: %v", invariant)
	}
	var nf *NotFoundError
	if !errors.As(notFound, &nf) || nf.Entity != "minion" {
		t.Errorf("not-found error not discriminated: %v", notFound)
	}
}

func TestErrorStrings(t *testing.T) {
	t.Parallel()

	e := &InvariantError{Entity: "task", ID: "t9", Reason: "transition from terminal status completed"}
	want := "task t9: transition from terminal status completed"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
