package minion //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legion/pkg/bus"
	"legion/pkg/emotion"
	"legion/pkg/entity"
	"legion/pkg/llm"
	"legion/pkg/memory"
	"legion/pkg/store"
)

// --- Mock implementations ---

// mockInvoker is a scriptable Invoker that tracks concurrency.
type mockInvoker struct {
	mu      sync.Mutex
	reply   string
	err     error
	gate    chan struct{} // if set, Invoke blocks until the gate closes
	started chan struct{} // if set, closed when the first Invoke begins

	calls     atomic.Int64
	inFlight  atomic.Int64
	maxSeen   atomic.Int64
	processed []string
}

func (m *mockInvoker) Invoke(ctx context.Context, req llm.Request) (string, error) {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxSeen.Load()
		if cur <= prev || m.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if m.calls.Add(1) == 1 && m.started != nil {
		close(m.started)
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	m.processed = append(m.processed, req.Message)
	reply, err := m.reply, m.err
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	if reply == "" {
		reply = "echoing: " + req.Message
	}
	return reply, nil
}

func (m *mockInvoker) processedMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.processed))
	copy(out, m.processed)
	return out
}

// eventSink collects published events by type.
type eventSink struct {
	mu     sync.Mutex
	events []bus.Event
}

func (s *eventSink) handler(ev bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) byType(t bus.EventType) []bus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bus.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// --- Test rig ---

type rig struct {
	bus *bus.Bus
	st  *store.Store
	mem *memory.Store
	eng *emotion.Engine
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &rig{
		bus: bus.New(),
		st:  st,
		mem: memory.NewStore(st.DB()),
		eng: emotion.New(emotion.Config{}),
	}
}

func (r *rig) startRuntime(t *testing.T, id string, cfg Config, inv Invoker) *Runtime {
	t.Helper()
	m := entity.Minion{
		ID:        id,
		Persona:   entity.Persona{Name: "Echo", Personality: "repeats things back"},
		Emotional: emotion.Baseline(),
		Status:    entity.StatusActive,
		CreatedAt: time.Now(),
	}
	if err := r.st.PutMinion(context.Background(), m); err != nil {
		t.Fatalf("put minion: %v", err)
	}
	rt := NewRuntime(m, cfg, r.bus, r.st, inv, r.eng, r.mem)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)
	return rt
}

func userMessage(channelID, content string) bus.Event {
	return bus.Event{
		Type: bus.ChannelMessage,
		Data: map[string]any{
			"channel_id":  channelID,
			"message_id":  "m-trigger",
			"sender_id":   "user:steven",
			"sender_type": "user",
			"content":     content,
		},
		Source: "user:steven",
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Tests ---

func TestRuntimeRespondsToUserMessage(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.ChannelMessage, sink.handler)

	inv := &mockInvoker{reply: "hello steven"}
	rt := r.startRuntime(t, "echo", DefaultConfig(), inv)

	if !rt.Offer(userMessage("ch-1", "hi")) {
		t.Fatal("runtime rejected a user message")
	}

	waitFor(t, "minion response", func() bool {
		for _, ev := range sink.byType(bus.ChannelMessage) {
			if ev.Data["sender_id"] == "echo" {
				return true
			}
		}
		return false
	})
	waitFor(t, "runtime idle", func() bool { return rt.State() == StateIdle })

	replies := 0
	for _, ev := range sink.byType(bus.ChannelMessage) {
		if ev.Data["sender_id"] == "echo" {
			replies++
			if ev.Data["sender_type"] != "minion" {
				t.Errorf("reply sender_type = %v, want minion", ev.Data["sender_type"])
			}
			if ev.Data["content"] != "hello steven" {
				t.Errorf("reply content = %v", ev.Data["content"])
			}
		}
	}
	if replies != 1 {
		t.Errorf("got %d replies, want exactly 1", replies)
	}

	// The reply was persisted to the channel stream.
	msgs, err := r.st.ListMessages(context.Background(), "ch-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderID != "echo" {
		t.Errorf("persisted messages = %+v, want one from echo", msgs)
	}
}

func TestInvocationFailurePublishesMinionError(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.ChannelMessage, sink.handler)
	r.bus.Subscribe(bus.MinionError, sink.handler)

	inv := &mockInvoker{err: errors.New("model unavailable")}
	rt := r.startRuntime(t, "echo", DefaultConfig(), inv)

	rt.Offer(userMessage("ch-1", "hi"))

	waitFor(t, "minion.error event", func() bool {
		return len(sink.byType(bus.MinionError)) == 1
	})
	waitFor(t, "runtime idle", func() bool { return rt.State() == StateIdle })

	errEv := sink.byType(bus.MinionError)[0]
	if errEv.Data["minion_id"] != "echo" {
		t.Errorf("minion.error minion_id = %v", errEv.Data["minion_id"])
	}
	if reason, _ := errEv.Data["reason"].(string); reason == "" {
		t.Error("minion.error carries no reason")
	}

	// No channel.message authored by the minion for that trigger; the
	// best-effort notice is system-authored.
	var minionMsgs, systemMsgs int
	for _, ev := range sink.byType(bus.ChannelMessage) {
		switch ev.Data["sender_type"] {
		case "minion":
			minionMsgs++
		case "system":
			systemMsgs++
		}
	}
	if minionMsgs != 0 {
		t.Errorf("failed turn produced %d minion messages, want 0", minionMsgs)
	}
	if systemMsgs != 1 {
		t.Errorf("failed turn produced %d system notices, want 1", systemMsgs)
	}
}

// A reply that cannot be persisted fails the turn like a failed
// invocation: minion.error is published, no minion-authored message
// reaches the channel, and the failure still registers emotionally.
func TestPersistFailureFailsTurnAndRegistersEmotionally(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.ChannelMessage, sink.handler)
	r.bus.Subscribe(bus.MinionError, sink.handler)
	r.bus.Subscribe(bus.MinionEmotionalUpdated, sink.handler)

	rt := r.startRuntime(t, "echo", DefaultConfig(), &mockInvoker{})
	before := rt.Emotional()

	// Make every message write fail while the invocation itself succeeds.
	if _, err := r.st.DB().Exec("DROP TABLE messages"); err != nil {
		t.Fatalf("drop messages table: %v", err)
	}

	rt.Offer(userMessage("ch-1", "hi"))

	waitFor(t, "minion.error event", func() bool {
		return len(sink.byType(bus.MinionError)) == 1
	})
	waitFor(t, "emotional update", func() bool {
		return len(sink.byType(bus.MinionEmotionalUpdated)) == 1
	})
	waitFor(t, "runtime idle", func() bool { return rt.State() == StateIdle })

	if reason, _ := sink.byType(bus.MinionError)[0].Data["reason"].(string); !strings.Contains(reason, "persist response") {
		t.Errorf("minion.error reason = %q, want persist failure", reason)
	}
	if n := len(sink.byType(bus.ChannelMessage)); n != 0 {
		t.Errorf("failed persist produced %d channel messages, want 0", n)
	}
	if after := rt.Emotional(); after.Stress <= before.Stress {
		t.Errorf("stress = %v after failed turn, want above %v", after.Stress, before.Stress)
	}
}

func TestAtMostOneInFlightInvocation(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.ChannelMessage, sink.handler)

	inv := &mockInvoker{gate: make(chan struct{}), started: make(chan struct{})}
	rt := r.startRuntime(t, "echo", DefaultConfig(), inv)

	rt.Offer(userMessage("ch-1", "first"))
	<-inv.started
	rt.Offer(userMessage("ch-1", "second"))
	rt.Offer(userMessage("ch-1", "third"))
	close(inv.gate)

	waitFor(t, "all three replies", func() bool {
		count := 0
		for _, ev := range sink.byType(bus.ChannelMessage) {
			if ev.Data["sender_id"] == "echo" {
				count++
			}
		}
		return count == 3
	})

	if max := inv.maxSeen.Load(); max != 1 {
		t.Errorf("max concurrent invocations = %d, want 1", max)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.ChannelMessage, sink.handler)

	inv := &mockInvoker{gate: make(chan struct{}), started: make(chan struct{})}
	rt := r.startRuntime(t, "echo", Config{QueueSize: 2, ReactToMinions: true}, inv)

	// First trigger occupies the consumer; the queue then holds two, and
	// the fourth trigger must evict the oldest queued one ("second").
	rt.Offer(userMessage("ch-1", "first"))
	<-inv.started
	rt.Offer(userMessage("ch-1", "second"))
	rt.Offer(userMessage("ch-1", "third"))
	rt.Offer(userMessage("ch-1", "fourth"))
	close(inv.gate)

	waitFor(t, "three processed triggers", func() bool {
		return len(inv.processedMessages()) == 3
	})
	// Give a dropped trigger a chance to show up if the bound is broken.
	time.Sleep(50 * time.Millisecond)

	got := inv.processedMessages()
	want := []string{"first", "third", "fourth"}
	if len(got) != len(want) {
		t.Fatalf("processed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("processed %v, want %v", got, want)
			break
		}
	}
}

func TestParticipationPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		senderID   string
		senderType string
		want       bool
	}{
		{"user message", DefaultConfig(), "user:steven", "user", true},
		{"own message skipped", DefaultConfig(), "echo", "minion", false},
		{"own message with ReactToSelf", Config{ReactToSelf: true}, "echo", "minion", true},
		{"other minion", Config{ReactToMinions: true}, "bard", "minion", true},
		{"other minion disabled", Config{ReactToMinions: false}, "bard", "minion", false},
		{"system notice always skipped", Config{ReactToSelf: true, ReactToMinions: true}, "system", "system", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := &Runtime{id: "echo", cfg: tt.cfg.withDefaults()}
			ev := bus.Event{Type: bus.ChannelMessage, Data: map[string]any{
				"channel_id": "ch-1", "sender_id": tt.senderID, "sender_type": tt.senderType,
			}}
			if got := rt.wantsEvent(ev); got != tt.want {
				t.Errorf("wantsEvent(%s/%s) = %v, want %v", tt.senderID, tt.senderType, got, tt.want)
			}
		})
	}
}

func TestEmotionalStateUpdatedAfterTurn(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	sink := &eventSink{}
	r.bus.Subscribe(bus.MinionEmotionalUpdated, sink.handler)

	inv := &mockInvoker{reply: "glad to help"}
	rt := r.startRuntime(t, "echo", DefaultConfig(), inv)

	before := rt.Emotional()
	rt.Offer(userMessage("ch-1", "thanks, this is great work echo!"))

	waitFor(t, "emotional update event", func() bool {
		return len(sink.byType(bus.MinionEmotionalUpdated)) == 1
	})

	after := rt.Emotional()
	if after.Valence <= before.Valence {
		t.Errorf("valence did not rise after praise: %v -> %v", before.Valence, after.Valence)
	}

	// The snapshot was persisted too.
	stored, err := r.st.GetMinion(context.Background(), "echo")
	if err != nil {
		t.Fatalf("get minion: %v", err)
	}
	if stored.Emotional.Valence != after.Valence {
		t.Errorf("persisted valence %v != runtime valence %v", stored.Emotional.Valence, after.Valence)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	p := entity.Persona{
		Name:        "Echo",
		Personality: "repeats things back with enthusiasm",
		Quirks:      []string{"always rhymes"},
		Tools:       []string{"search"},
	}
	got := BuildSystemPrompt(p, emotion.Baseline(), "Recent conversation:\nsteven: hi", "Relevant past interactions:\n- a fact")

	for _, want := range []string{"You are Echo", "always rhymes", "search", "Recent conversation", "Relevant past interactions"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
