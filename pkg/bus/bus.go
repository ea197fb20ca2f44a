// Package bus implements the in-process event bus that every Legion
// component publishes to and subscribes on. Events carry a closed,
// explicitly-named type taxonomy; there is no generic envelope type that
// would force subscribers to inspect payloads to route them.
//
// The bus is in-memory only. It offers no retry and no persistence of the
// event stream itself: a handler failure is the handler's responsibility
// to recover from or to escalate as a new event.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one kind of event in the closed taxonomy.
type EventType string

// Channel events.
const (
	ChannelMessage       EventType = "channel.message"
	ChannelCreated       EventType = "channel.created"
	ChannelMemberAdded   EventType = "channel.member_added"
	ChannelMemberRemoved EventType = "channel.member_removed"
	ChannelDeleted       EventType = "channel.deleted"
)

// Minion lifecycle events.
const (
	MinionSpawned          EventType = "minion.spawned"
	MinionDespawned        EventType = "minion.despawned"
	MinionStatusChanged    EventType = "minion.status_changed"
	MinionEmotionalUpdated EventType = "minion.emotional_state_updated"
	MinionError            EventType = "minion.error"
)

// Task lifecycle events.
const (
	TaskCreated        EventType = "task.created"
	TaskAssigned       EventType = "task.assigned"
	TaskStatusChanged  EventType = "task.status.changed"
	TaskProgressUpdate EventType = "task.progress.update"
	TaskCompleted      EventType = "task.completed"
	TaskFailed         EventType = "task.failed"
	TaskCancelled      EventType = "task.cancelled"
	TaskDeleted        EventType = "task.deleted"
)

// Event is an immutable fact published once and fanned out to zero or more
// subscribers. Data carries the identifying keys (channel_id, minion_id,
// task_id) needed for routing without inspecting payload semantics.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler processes a single event. Handlers run on their own goroutine;
// a panic in one handler never prevents other handlers from running.
type Handler func(Event)

// Recorder receives every published event, for appending to the runtime
// event log. It is invoked synchronously before fan-out.
type Recorder func(Event)

// Bus is a typed publish/subscribe fan-out point. The subscriber table is
// owned exclusively by the Bus; components request changes by calling
// Subscribe, never by direct mutation.
type Bus struct {
	mu       sync.RWMutex
	subs     map[EventType][]Handler
	recorder Recorder

	// wg tracks in-flight handler goroutines so Drain can wait for them.
	wg sync.WaitGroup

	// onPanic is called with the recovered value when a handler panics.
	onPanic func(ev Event, recovered any)

	// nowFunc allows tests to control event timestamps.
	nowFunc func() time.Time
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[EventType][]Handler),
		nowFunc: time.Now,
	}
}

// SetRecorder installs the event-log hook. Pass nil to disable.
func (b *Bus) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// SetPanicHandler installs a callback invoked when a subscriber panics.
func (b *Bus) SetPanicHandler(fn func(ev Event, recovered any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = fn
}

// Subscribe registers a handler for every future event of the given type.
// Handlers for one event run in subscription order of registration with
// respect to snapshotting: a handler registered after Publish has begun
// dispatch for a specific event never sees that event.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish constructs an Event and schedules every currently-registered
// handler for its type. It returns once all dispatch has been scheduled;
// it does not wait for handlers to finish.
func (b *Bus) Publish(t EventType, data map[string]any, source string) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      t,
		Data:      data,
		Source:    source,
		Timestamp: b.nowFunc(),
	}

	// Snapshot the subscriber list under lock so late subscribers are
	// excluded from this event.
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[t]))
	copy(handlers, b.subs[t])
	rec := b.recorder
	b.mu.RUnlock()

	if rec != nil {
		rec(ev)
	}

	for _, h := range handlers {
		b.wg.Add(1)
		go b.dispatch(h, ev)
	}
	return ev
}

// dispatch runs one handler with panic isolation.
func (b *Bus) dispatch(h Handler, ev Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.mu.RLock()
			onPanic := b.onPanic
			b.mu.RUnlock()
			if onPanic != nil {
				onPanic(ev, r)
			}
		}
	}()
	h(ev)
}

// Drain blocks until every handler scheduled so far has returned. Callers
// must not publish concurrently with Drain if they need a quiescent bus.
func (b *Bus) Drain() {
	b.wg.Wait()
}
