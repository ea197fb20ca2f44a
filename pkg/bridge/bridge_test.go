package bridge //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"sync"
	"testing"

	"legion/pkg/bus"
)

// fakeConn records every notification it receives.
type fakeConn struct {
	mu    sync.Mutex
	recvd []Notification
}

func (c *fakeConn) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvd = append(c.recvd, n)
	return nil
}

func (c *fakeConn) named(name string) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Notification
	for _, n := range c.recvd {
		if n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

func TestChannelEventsRequireSubscription(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)

	subbed := &fakeConn{}
	other := &fakeConn{}
	br.SubscribeChannel(subbed, "ch-1")
	br.Connect(other)

	b.Publish(bus.ChannelMessage, map[string]any{"channel_id": "ch-1", "content": "hi"}, "user:steven")
	b.Drain()

	if got := subbed.named("channel.message"); len(got) != 1 {
		t.Fatalf("subscribed conn got %d channel.message, want 1", len(got))
	}
	if got := other.named("channel.message"); len(got) != 0 {
		t.Errorf("unsubscribed conn got %d channel.message, want 0", len(got))
	}
}

func TestNotificationNamesAreExplicitPerType(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}
	br.SubscribeChannel(c, "ch-1")
	br.SubscribeMinion(c, "echo")

	b.Publish(bus.ChannelMessage, map[string]any{"channel_id": "ch-1"}, "t")
	b.Publish(bus.MinionEmotionalUpdated, map[string]any{"minion_id": "echo"}, "t")
	b.Publish(bus.TaskCompleted, map[string]any{"task_id": "t-1"}, "t")
	b.Drain()

	for _, name := range []string{"channel.message", "minion.emotional_state_updated", "task.completed"} {
		if got := c.named(name); len(got) != 1 {
			t.Errorf("got %d notifications named %q, want 1", len(got), name)
		}
	}
}

func TestMinionEventsRoutedByMinionSet(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)

	watcher := &fakeConn{}
	bystander := &fakeConn{}
	br.SubscribeMinion(watcher, "echo")
	br.SubscribeMinion(bystander, "bard")

	b.Publish(bus.MinionError, map[string]any{"minion_id": "echo", "reason": "timeout"}, "minion:echo")
	b.Drain()

	if got := watcher.named("minion.error"); len(got) != 1 {
		t.Errorf("watcher got %d minion.error, want 1", len(got))
	}
	if got := bystander.named("minion.error"); len(got) != 0 {
		t.Errorf("bystander got %d minion.error, want 0", len(got))
	}
}

func TestLifecycleEventsBroadcast(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)

	a := &fakeConn{}
	c := &fakeConn{}
	br.Connect(a)
	br.Connect(c)

	b.Publish(bus.MinionSpawned, map[string]any{"minion_id": "echo"}, "roster")
	b.Publish(bus.TaskCreated, map[string]any{"task_id": "t-1"}, "orchestrator")
	b.Drain()

	for _, conn := range []*fakeConn{a, c} {
		if got := conn.named("minion.spawned"); len(got) != 1 {
			t.Errorf("conn got %d minion.spawned, want 1", len(got))
		}
		if got := conn.named("task.created"); len(got) != 1 {
			t.Errorf("conn got %d task.created, want 1", len(got))
		}
	}
}

func TestUnsubscribeNotSubscribedIsNoOp(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}

	// Must not panic or grow state.
	br.UnsubscribeChannel(c, "ch-missing")
	br.UnsubscribeMinion(c, "ghost")

	if len(br.byChannel) != 0 || len(br.byMinion) != 0 {
		t.Errorf("no-op unsubscribe left entries: channels=%d minions=%d", len(br.byChannel), len(br.byMinion))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}
	br.SubscribeChannel(c, "ch-1")

	b.Publish(bus.ChannelMessage, map[string]any{"channel_id": "ch-1"}, "t")
	b.Drain()
	br.UnsubscribeChannel(c, "ch-1")
	b.Publish(bus.ChannelMessage, map[string]any{"channel_id": "ch-1"}, "t")
	b.Drain()

	if got := c.named("channel.message"); len(got) != 1 {
		t.Errorf("got %d channel.message, want 1 (delivery after unsubscribe)", len(got))
	}
}

// A despawn must drop the dead minion's subscription set; a connection
// watching that minion stays connected and keeps receiving broadcasts.
func TestDespawnDropsMinionSubscriptionSet(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}
	br.SubscribeMinion(c, "echo")
	br.SubscribeMinion(c, "bard")

	b.Publish(bus.MinionDespawned, map[string]any{"minion_id": "echo"}, "roster")
	b.Drain()

	br.mu.Lock()
	_, echoLeft := br.byMinion["echo"]
	_, bardLeft := br.byMinion["bard"]
	_, connected := br.conns[c]
	br.mu.Unlock()

	if echoLeft {
		t.Error("despawned minion still has a subscription set")
	}
	if !bardLeft {
		t.Error("despawn of echo removed bard's subscription set")
	}
	if !connected {
		t.Error("despawn removed the connection from the broadcast set")
	}
	if got := c.named("minion.despawned"); len(got) != 1 {
		t.Errorf("got %d minion.despawned, want 1", len(got))
	}
}

// Deleting a channel likewise drops its subscription set after the
// deletion event is delivered to the channel's subscribers.
func TestChannelDeletedDropsChannelSubscriptionSet(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}
	br.SubscribeChannel(c, "ch-1")

	b.Publish(bus.ChannelDeleted, map[string]any{"channel_id": "ch-1"}, "channels")
	b.Drain()

	if got := c.named("channel.deleted"); len(got) != 1 {
		t.Fatalf("got %d channel.deleted, want 1", len(got))
	}
	br.mu.Lock()
	_, left := br.byChannel["ch-1"]
	br.mu.Unlock()
	if left {
		t.Error("deleted channel still has a subscription set")
	}
}

// Disconnect must remove the connection from every set it appears in.
func TestDisconnectCleansEverySet(t *testing.T) {
	t.Parallel()

	b := bus.New()
	br := New(b)
	c := &fakeConn{}
	br.SubscribeChannel(c, "ch-1")
	br.SubscribeChannel(c, "ch-2")
	br.SubscribeMinion(c, "echo")

	br.Disconnect(c)

	br.mu.Lock()
	defer br.mu.Unlock()
	for id, set := range br.byChannel {
		if _, ok := set[c]; ok {
			t.Errorf("disconnected conn still in channel set %s", id)
		}
	}
	for id, set := range br.byMinion {
		if _, ok := set[c]; ok {
			t.Errorf("disconnected conn still in minion set %s", id)
		}
	}
	if _, ok := br.conns[c]; ok {
		t.Error("disconnected conn still in broadcast set")
	}
}
