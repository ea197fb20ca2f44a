package bus //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishInvokesEveryHandlerExactlyOnce(t *testing.T) {
	t.Parallel()

	b := New()
	var first, second atomic.Int64
	b.Subscribe(ChannelMessage, func(Event) { first.Add(1) })
	b.Subscribe(ChannelMessage, func(Event) { second.Add(1) })

	b.Publish(ChannelMessage, map[string]any{"channel_id": "general"}, "test")
	b.Drain()

	if got := first.Load(); got != 1 {
		t.Errorf("first handler invoked %d times, want 1", got)
	}
	if got := second.Load(); got != 1 {
		t.Errorf("second handler invoked %d times, want 1", got)
	}
}

func TestPublishDoesNotDeliverToOtherTypes(t *testing.T) {
	t.Parallel()

	b := New()
	var calls atomic.Int64
	b.Subscribe(TaskCreated, func(Event) { calls.Add(1) })

	b.Publish(ChannelMessage, nil, "test")
	b.Drain()

	if got := calls.Load(); got != 0 {
		t.Errorf("handler for task.created invoked %d times for channel.message, want 0", got)
	}
}

func TestLateSubscriberExcludedFromInFlightEvent(t *testing.T) {
	t.Parallel()

	b := New()

	// The first handler blocks until release so the event is still in
	// flight when the late subscription happens.
	release := make(chan struct{})
	started := make(chan struct{})
	b.Subscribe(ChannelMessage, func(Event) {
		close(started)
		<-release
	})

	b.Publish(ChannelMessage, nil, "test")
	<-started

	var late atomic.Int64
	b.Subscribe(ChannelMessage, func(Event) { late.Add(1) })
	close(release)
	b.Drain()

	if got := late.Load(); got != 0 {
		t.Errorf("late subscriber invoked %d times for pre-subscription event, want 0", got)
	}

	// A subsequent publish must reach it.
	b.Publish(ChannelMessage, nil, "test")
	b.Drain()
	if got := late.Load(); got != 1 {
		t.Errorf("late subscriber invoked %d times after subscribing, want 1", got)
	}
}

func TestPanicInOneHandlerDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	b := New()
	var recovered atomic.Value
	b.SetPanicHandler(func(_ Event, r any) { recovered.Store(r) })

	var survivor atomic.Int64
	b.Subscribe(MinionError, func(Event) { panic("handler bug") })
	b.Subscribe(MinionError, func(Event) { survivor.Add(1) })

	b.Publish(MinionError, map[string]any{"minion_id": "echo"}, "test")
	b.Drain()

	if got := survivor.Load(); got != 1 {
		t.Errorf("surviving handler invoked %d times, want 1", got)
	}
	if r := recovered.Load(); r != "handler bug" {
		t.Errorf("panic handler got %v, want %q", r, "handler bug")
	}
}

func TestPublishedEventFields(t *testing.T) {
	t.Parallel()

	b := New()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return fixed }

	ev := b.Publish(TaskCompleted, map[string]any{"task_id": "t1"}, "orchestrator")

	if ev.ID == "" {
		t.Error("event ID must be set")
	}
	if ev.Type != TaskCompleted {
		t.Errorf("event type = %q, want %q", ev.Type, TaskCompleted)
	}
	if ev.Source != "orchestrator" {
		t.Errorf("event source = %q, want %q", ev.Source, "orchestrator")
	}
	if !ev.Timestamp.Equal(fixed) {
		t.Errorf("event timestamp = %v, want %v", ev.Timestamp, fixed)
	}
	if ev.Data["task_id"] != "t1" {
		t.Errorf("event data task_id = %v, want %q", ev.Data["task_id"], "t1")
	}
}

func TestRecorderSeesEveryPublish(t *testing.T) {
	t.Parallel()

	b := New()
	var mu sync.Mutex
	var seen []EventType
	b.SetRecorder(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	})

	b.Publish(ChannelCreated, nil, "test")
	b.Publish(MinionSpawned, nil, "test")
	b.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != ChannelCreated || seen[1] != MinionSpawned {
		t.Errorf("recorder saw %v, want [channel.created minion.spawned]", seen)
	}
}

func TestHandlerMayPublishFurtherEvents(t *testing.T) {
	t.Parallel()

	b := New()
	var replies atomic.Int64
	b.Subscribe(ChannelMessage, func(ev Event) {
		if ev.Source == "user" {
			b.Publish(ChannelMessage, nil, "minion")
		}
	})
	b.Subscribe(ChannelMessage, func(ev Event) {
		if ev.Source == "minion" {
			replies.Add(1)
		}
	})

	b.Publish(ChannelMessage, nil, "user")
	b.Drain()

	if got := replies.Load(); got != 1 {
		t.Errorf("re-published event delivered %d times, want 1", got)
	}
}
