package channel //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"legion/pkg/bus"
	"legion/pkg/entity"
	"legion/pkg/store"
)

type rig struct {
	bus *bus.Bus
	st  *store.Store
	svc *Service

	mu     sync.Mutex
	events []bus.Event
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	r := &rig{bus: bus.New(), st: st}
	r.svc = NewService(r.bus, st)
	r.svc.nowFunc = func() time.Time {
		return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	}
	for _, et := range []bus.EventType{
		bus.ChannelCreated, bus.ChannelMessage, bus.ChannelMemberAdded,
		bus.ChannelMemberRemoved, bus.ChannelDeleted,
	} {
		r.bus.Subscribe(et, func(ev bus.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *rig) eventsOf(t bus.EventType) []bus.Event {
	r.bus.Drain()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestCreateChannelPublishesEvent(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ch, err := r.svc.Create(context.Background(), CreateParams{
		Name:      "general",
		Type:      entity.ChannelPublic,
		Members:   []string{"echo"},
		CreatedBy: "user:steven",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ch.ID == "" {
		t.Error("channel id not assigned")
	}

	got, err := r.svc.Get(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0] != "echo" {
		t.Errorf("members = %v, want [echo]", got.Members)
	}

	evs := r.eventsOf(bus.ChannelCreated)
	if len(evs) != 1 {
		t.Fatalf("channel.created events = %d, want 1", len(evs))
	}
	if evs[0].Data["channel_id"] != ch.ID {
		t.Errorf("event channel_id = %v", evs[0].Data["channel_id"])
	}
}

func TestCreateChannelValidation(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	var verr *entity.ValidationError
	if _, err := r.svc.Create(ctx, CreateParams{Name: ""}); !errors.As(err, &verr) {
		t.Errorf("empty name: got %v, want ValidationError", err)
	}
	if _, err := r.svc.Create(ctx, CreateParams{Name: "x", Type: "broadcast"}); !errors.As(err, &verr) {
		t.Errorf("unknown type: got %v, want ValidationError", err)
	}
	// Validation failures never reach the bus.
	if n := len(r.eventsOf(bus.ChannelCreated)); n != 0 {
		t.Errorf("validation failure published %d events", n)
	}
}

func TestPostMessagePersistsAndPublishes(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	ch, err := r.svc.Create(ctx, CreateParams{Name: "general"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m, err := r.svc.PostMessage(ctx, PostParams{
		ChannelID:  ch.ID,
		SenderID:   "user:steven",
		SenderType: entity.SenderUser,
		Content:    "hello minions",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	msgs, err := r.svc.Messages(ctx, ch.ID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID || msgs[0].Content != "hello minions" {
		t.Errorf("persisted messages = %+v", msgs)
	}

	evs := r.eventsOf(bus.ChannelMessage)
	if len(evs) != 1 {
		t.Fatalf("channel.message events = %d, want 1", len(evs))
	}
	data := evs[0].Data
	if data["channel_id"] != ch.ID || data["message_id"] != m.ID || data["sender_id"] != "user:steven" {
		t.Errorf("event data = %v", data)
	}
}

func TestPostMessageValidation(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	ch, err := r.svc.Create(ctx, CreateParams{Name: "general"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var verr *entity.ValidationError
	if _, err := r.svc.PostMessage(ctx, PostParams{ChannelID: ch.ID, SenderID: "u", Content: ""}); !errors.As(err, &verr) {
		t.Errorf("empty content: got %v, want ValidationError", err)
	}
	if _, err := r.svc.PostMessage(ctx, PostParams{ChannelID: ch.ID, SenderID: "", Content: "x"}); !errors.As(err, &verr) {
		t.Errorf("empty sender: got %v, want ValidationError", err)
	}

	var nferr *entity.NotFoundError
	if _, err := r.svc.PostMessage(ctx, PostParams{ChannelID: "ghost", SenderID: "u", Content: "x"}); !errors.As(err, &nferr) {
		t.Errorf("unknown channel: got %v, want NotFoundError", err)
	}
}

func TestMembershipEvents(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	ch, err := r.svc.Create(ctx, CreateParams{Name: "general"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.svc.AddMember(ctx, ch.ID, "echo"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := r.svc.RemoveMember(ctx, ch.ID, "echo"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if n := len(r.eventsOf(bus.ChannelMemberAdded)); n != 1 {
		t.Errorf("member_added events = %d, want 1", n)
	}
	if n := len(r.eventsOf(bus.ChannelMemberRemoved)); n != 1 {
		t.Errorf("member_removed events = %d, want 1", n)
	}

	var nferr *entity.NotFoundError
	if err := r.svc.AddMember(ctx, "ghost", "echo"); !errors.As(err, &nferr) {
		t.Errorf("add to unknown channel: got %v, want NotFoundError", err)
	}
}

func TestDeleteChannel(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	ch, err := r.svc.Create(ctx, CreateParams{Name: "ephemeral"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.svc.Delete(ctx, ch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var nferr *entity.NotFoundError
	if _, err := r.svc.Get(ctx, ch.ID); !errors.As(err, &nferr) {
		t.Errorf("get deleted: got %v, want NotFoundError", err)
	}
	if n := len(r.eventsOf(bus.ChannelDeleted)); n != 1 {
		t.Errorf("channel.deleted events = %d, want 1", n)
	}
}
