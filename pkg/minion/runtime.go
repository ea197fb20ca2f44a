// Package minion implements the per-minion agent runtime and the roster
// that manages minion lifecycles. Each runtime owns its minion's
// emotional state and memory buffer; a single consumer goroutine per
// minion guarantees at most one in-flight invocation at a time.
package minion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"legion/pkg/bus"
	"legion/pkg/emotion"
	"legion/pkg/entity"
	"legion/pkg/llm"
	"legion/pkg/memory"
	"legion/pkg/store"
)

// Invoker abstracts the external LLM capability for testing. Production
// impl is llm.GeminiClient.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (string, error)
}

// State represents a runtime's position in its turn state machine.
type State string

// Runtime state constants.
const (
	StateIdle     State = "idle"
	StateInvoking State = "invoking"
	StateError    State = "error"
)

// Config holds runtime tuning. Zero values take defaults.
type Config struct {
	// QueueSize bounds the pending trigger queue; when full the oldest
	// queued trigger is dropped (default 8).
	QueueSize int

	// InvokeTimeout bounds one LLM invocation (default 60s).
	InvokeTimeout time.Duration

	// ReactToSelf controls whether a minion reacts to its own messages.
	ReactToSelf bool

	// ReactToMinions controls whether a minion reacts to other minions'
	// messages, not just the human operator's.
	ReactToMinions bool
}

func (c Config) withDefaults() Config {
	out := c
	if out.QueueSize == 0 {
		out.QueueSize = 8
	}
	if out.InvokeTimeout == 0 {
		out.InvokeTimeout = 60 * time.Second
	}
	return out
}

// DefaultConfig is the participation policy used when none is given:
// minions converse with each other but never answer themselves.
func DefaultConfig() Config {
	return Config{ReactToMinions: true}.withDefaults()
}

// Runtime drives one minion's invocation lifecycle.
type Runtime struct {
	id      string
	persona entity.Persona
	cfg     Config

	bus      *bus.Bus
	st       *store.Store
	invoker  Invoker
	engine   *emotion.Engine
	memories *memory.Store

	// queue feeds the single consumer goroutine; dropMu serializes the
	// drop-oldest path so concurrent offers cannot interleave pops.
	queue  chan bus.Event
	dropMu sync.Mutex

	mu        sync.Mutex
	state     State
	emotional entity.EmotionalState

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// NewRuntime creates a runtime for one minion. Call Run to start its
// consumer goroutine.
func NewRuntime(m entity.Minion, cfg Config, b *bus.Bus, st *store.Store, inv Invoker, eng *emotion.Engine, mem *memory.Store) *Runtime {
	resolved := cfg.withDefaults()
	return &Runtime{
		id:        m.ID,
		persona:   m.Persona,
		cfg:       resolved,
		bus:       b,
		st:        st,
		invoker:   inv,
		engine:    eng,
		memories:  mem,
		queue:     make(chan bus.Event, resolved.QueueSize),
		state:     StateIdle,
		emotional: m.Emotional,
		nowFunc:   time.Now,
	}
}

// ID returns the minion id.
func (r *Runtime) ID() string {
	return r.id
}

// State returns the current turn state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Emotional returns a snapshot of the minion's emotional state.
func (r *Runtime) Emotional() entity.EmotionalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emotional
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Offer presents a channel.message event to this runtime. The
// participation policy decides whether it becomes a trigger; accepted
// triggers are queued, and when the queue is full the oldest is dropped.
func (r *Runtime) Offer(ev bus.Event) bool {
	if !r.wantsEvent(ev) {
		return false
	}

	r.dropMu.Lock()
	defer r.dropMu.Unlock()
	for {
		select {
		case r.queue <- ev:
			return true
		default:
		}
		// Queue full: drop the oldest queued trigger and retry.
		select {
		case <-r.queue:
		default:
		}
	}
}

// wantsEvent applies the participation policy.
func (r *Runtime) wantsEvent(ev bus.Event) bool {
	senderID, _ := ev.Data["sender_id"].(string)
	senderType, _ := ev.Data["sender_type"].(string)

	if senderType == string(entity.SenderSystem) {
		// System notices (including other minions' failure apologies)
		// never trigger a turn, or error loops would feed themselves.
		return false
	}
	if senderID == r.id && !r.cfg.ReactToSelf {
		return false
	}
	if senderType == string(entity.SenderMinion) && senderID != r.id && !r.cfg.ReactToMinions {
		return false
	}
	return true
}

// Run consumes queued triggers until ctx is cancelled. It is the only
// goroutine that mutates this minion's emotional state and memory buffer,
// so state updates from one turn always land before the next turn begins.
func (r *Runtime) Run(ctx context.Context) {
	buffer := memory.NewBuffer(20)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.takeTurn(ctx, ev, buffer)
		}
	}
}

// takeTurn executes one Idle -> Invoking -> Idle cycle.
func (r *Runtime) takeTurn(ctx context.Context, ev bus.Event, buffer *memory.Buffer) {
	channelID, _ := ev.Data["channel_id"].(string)
	senderID, _ := ev.Data["sender_id"].(string)
	content, _ := ev.Data["content"].(string)

	r.setState(StateInvoking)
	r.publishStatus(entity.StatusActive)

	reply, err := r.invoke(ctx, buffer, channelID, content)
	if err != nil {
		r.failTurn(ctx, channelID, err)
		buffer.Add(senderID, content)
		r.applyEmotion(ctx, emotion.Interaction{
			Sentiment: sentimentOf(content),
			Intensity: intensityOf(content),
			Addressed: r.addressedBy(content),
			Failed:    true,
		})
		return
	}

	msg := entity.Message{
		ID:         uuid.New().String(),
		ChannelID:  channelID,
		SenderID:   r.id,
		SenderType: entity.SenderMinion,
		Content:    reply,
		Timestamp:  r.nowFunc(),
	}
	if err := r.st.AppendMessage(ctx, msg); err != nil {
		// An unpersistable reply fails the turn the same way a failed
		// invocation does: the trigger still lands in the buffer and
		// the failure still registers emotionally.
		r.failTurn(ctx, channelID, fmt.Errorf("persist response: %w", err))
		buffer.Add(senderID, content)
		r.applyEmotion(ctx, emotion.Interaction{
			Sentiment: sentimentOf(content),
			Intensity: intensityOf(content),
			Addressed: r.addressedBy(content),
			Failed:    true,
		})
		return
	}
	r.bus.Publish(bus.ChannelMessage, messageData(msg), r.id)

	// State updates land strictly after this turn's invocation and
	// before the next trigger is consumed.
	buffer.Add(senderID, content)
	buffer.Add(r.id, reply)
	r.recordExchange(ctx, channelID, senderID, content, reply)
	r.applyEmotion(ctx, emotion.Interaction{
		Sentiment: sentimentOf(content),
		Intensity: intensityOf(content),
		Novelty:   noveltyOf(reply),
		Addressed: r.addressedBy(content),
	})

	r.setState(StateIdle)
	r.publishStatus(entity.StatusIdle)
}

// invoke builds the invocation context and calls the LLM under timeout.
func (r *Runtime) invoke(ctx context.Context, buffer *memory.Buffer, channelID, content string) (string, error) {
	recall := ""
	if r.memories != nil {
		// Recall failures degrade the cue, not the turn.
		recall, _ = r.memories.RecallForPrompt(ctx, r.id, content)
	}
	system := BuildSystemPrompt(r.persona, r.Emotional(), buffer.Cue(), recall)

	invokeCtx, cancel := context.WithTimeout(ctx, r.cfg.InvokeTimeout)
	defer cancel()

	return r.invoker.Invoke(invokeCtx, llm.Request{
		System:      system,
		Message:     content,
		Model:       r.persona.Model,
		Temperature: r.persona.Temperature,
	})
}

// failTurn publishes minion.error and a best-effort in-channel notice, then
// returns the runtime to Idle. There is no automatic retry.
func (r *Runtime) failTurn(ctx context.Context, channelID string, err error) {
	r.setState(StateError)
	r.bus.Publish(bus.MinionError, map[string]any{
		"minion_id":  r.id,
		"channel_id": channelID,
		"reason":     err.Error(),
	}, r.id)

	// The notice is authored by the system, not the minion: a failed turn
	// must not produce a channel.message with the minion as sender.
	notice := entity.Message{
		ID:         uuid.New().String(),
		ChannelID:  channelID,
		SenderID:   "system",
		SenderType: entity.SenderSystem,
		Content:    fmt.Sprintf("%s is having trouble responding right now.", r.persona.Name),
		Timestamp:  r.nowFunc(),
	}
	if persistErr := r.st.AppendMessage(ctx, notice); persistErr == nil {
		r.bus.Publish(bus.ChannelMessage, messageData(notice), r.id)
	}

	r.setState(StateIdle)
	r.publishStatus(entity.StatusIdle)
}

// applyEmotion runs the emotion engine, persists the snapshot, and
// publishes the update event.
func (r *Runtime) applyEmotion(ctx context.Context, in emotion.Interaction) {
	r.mu.Lock()
	r.emotional = r.engine.Update(r.emotional, in)
	snapshot := r.emotional
	r.mu.Unlock()

	_ = r.st.UpdateMinionEmotional(ctx, r.id, snapshot)
	r.bus.Publish(bus.MinionEmotionalUpdated, map[string]any{
		"minion_id":    r.id,
		"valence":      snapshot.Valence,
		"energy_level": snapshot.Energy,
		"stress_level": snapshot.Stress,
	}, r.id)
}

// recordExchange stores the turn in long-term memory.
func (r *Runtime) recordExchange(ctx context.Context, channelID, senderID, input, output string) {
	if r.memories == nil {
		return
	}
	_, _ = r.memories.Record(ctx, memory.RecordParams{
		MinionID:  r.id,
		ChannelID: channelID,
		Content:   fmt.Sprintf("%s said %q and %s replied %q", senderID, truncate(input, 200), r.id, truncate(output, 200)),
		Kind:      "exchange",
	})
}

func (r *Runtime) publishStatus(status entity.MinionStatus) {
	r.bus.Publish(bus.MinionStatusChanged, map[string]any{
		"minion_id": r.id,
		"status":    string(status),
	}, r.id)
}

func (r *Runtime) addressedBy(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, strings.ToLower(r.persona.Name)) ||
		strings.Contains(lower, strings.ToLower(r.id))
}

// messageData renders a message as channel.message event data. Every key
// a router needs is present at the top level.
func messageData(m entity.Message) map[string]any {
	return map[string]any{
		"channel_id":  m.ChannelID,
		"message_id":  m.ID,
		"sender_id":   m.SenderID,
		"sender_type": string(m.SenderType),
		"content":     m.Content,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
