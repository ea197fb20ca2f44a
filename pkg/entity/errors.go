package entity

import "fmt"

// ValidationError reports malformed input rejected at the API boundary
// before any event is published. It enables typed error discrimination
// via errors.As so callers can map it to a 400-class response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvariantError reports an illegal state transition or a violated
// structural invariant, distinct from bad input: the entity exists and the
// input is well formed, but the requested change is not allowed from the
// current state.
type InvariantError struct {
	Entity string // "task", "channel", "minion"
	ID     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// NotFoundError reports a lookup of an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
