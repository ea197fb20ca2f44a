// Package entity defines the Legion data model shared across packages:
// minions, channels, messages, tasks, and the error kinds callers use to
// distinguish bad input from illegal state transitions.
package entity

import "time"

// MinionStatus represents a minion's lifecycle status.
type MinionStatus string

// Minion status constants.
const (
	StatusSpawning  MinionStatus = "spawning"
	StatusActive    MinionStatus = "active"
	StatusIdle      MinionStatus = "idle"
	StatusError     MinionStatus = "error"
	StatusDespawned MinionStatus = "despawned"
)

// Persona describes a minion's identity and model parameters. Personas are
// loaded from TOML files; see the persona package.
type Persona struct {
	Name        string   `toml:"name" json:"name"`
	Personality string   `toml:"personality" json:"personality"`
	Quirks      []string `toml:"quirks" json:"quirks,omitempty"`
	Tools       []string `toml:"tools" json:"tools,omitempty"`
	Model       string   `toml:"model" json:"model,omitempty"`
	Temperature float64  `toml:"temperature" json:"temperature,omitempty"`
}

// EmotionalState is a bounded numeric mood model. Mood axes are in [-1,1];
// Energy and Stress are in [0,1]. It is a value type: the emotion engine
// returns a new state rather than mutating in place.
type EmotionalState struct {
	Valence     float64 `json:"valence"`
	Arousal     float64 `json:"arousal"`
	Dominance   float64 `json:"dominance"`
	Curiosity   float64 `json:"curiosity"`
	Creativity  float64 `json:"creativity"`
	Sociability float64 `json:"sociability"`
	Energy      float64 `json:"energy_level"`
	Stress      float64 `json:"stress_level"`
}

// Minion is an independently addressable conversational agent instance.
type Minion struct {
	ID        string         `json:"minion_id"`
	Persona   Persona        `json:"persona"`
	Emotional EmotionalState `json:"emotional_state"`
	Status    MinionStatus   `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChannelType classifies a channel's visibility.
type ChannelType string

// Channel type constants.
const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
	ChannelDirect  ChannelType = "direct"
)

// Channel is a named, membership-scoped ordered message stream. The member
// set determines exactly which minion runtimes are eligible to react to
// messages in it.
type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	Members   []string    `json:"members"`
	CreatedBy string      `json:"created_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SenderType classifies a message author.
type SenderType string

// Sender type constants.
const (
	SenderUser   SenderType = "user"
	SenderMinion SenderType = "minion"
	SenderSystem SenderType = "system"
)

// Message is one entry in a channel's append-only stream. Immutable once
// appended.
type Message struct {
	ID         string            `json:"id"`
	ChannelID  string            `json:"channel_id"`
	SenderID   string            `json:"sender_id"`
	SenderType SenderType        `json:"sender_type"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TaskStatus represents a task's position in its state machine.
type TaskStatus string

// Task status constants.
const (
	TaskPending    TaskStatus = "pending"
	TaskDecomposed TaskStatus = "decomposed"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work assigned to zero or more minions. Parent/child
// decomposition forms a tree, never a cycle; dependencies are validated
// acyclic at creation time.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	AssignedTo   []string   `json:"assigned_to,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	SubtaskIDs   []string   `json:"subtask_ids,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	CompletedAt  time.Time  `json:"completed_at,omitzero"`
}
