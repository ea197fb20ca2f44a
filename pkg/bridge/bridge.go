// Package bridge forwards bus events to external live-client connections.
// A connection opts in per channel and per minion; the bridge owns both
// subscription maps and is the only component that mutates them.
package bridge

import (
	"log"
	"sync"

	"legion/pkg/bus"
)

// Notification is one addressed outbound message. Name is the stable,
// explicit per-event-type name (the bus event type string); clients route
// on it without inspecting the payload.
type Notification struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// Conn is one live client connection. Send must be safe to call from
// multiple goroutines; a failed send does not remove the connection, that
// is the transport's job via Disconnect.
type Conn interface {
	Send(n Notification) error
}

// Bridge maintains channel and minion subscription sets and delivers
// matching bus events to the connections in them.
type Bridge struct {
	mu        sync.Mutex
	byChannel map[string]map[Conn]struct{}
	byMinion  map[string]map[Conn]struct{}
	conns     map[Conn]struct{}
}

// New creates a Bridge and subscribes it to every event type in the
// taxonomy.
func New(b *bus.Bus) *Bridge {
	br := &Bridge{
		byChannel: make(map[string]map[Conn]struct{}),
		byMinion:  make(map[string]map[Conn]struct{}),
		conns:     make(map[Conn]struct{}),
	}
	for _, et := range []bus.EventType{
		bus.ChannelMessage, bus.ChannelCreated, bus.ChannelMemberAdded,
		bus.ChannelMemberRemoved, bus.ChannelDeleted,
		bus.MinionSpawned, bus.MinionDespawned, bus.MinionStatusChanged,
		bus.MinionEmotionalUpdated, bus.MinionError,
		bus.TaskCreated, bus.TaskAssigned, bus.TaskStatusChanged,
		bus.TaskProgressUpdate, bus.TaskCompleted, bus.TaskFailed,
		bus.TaskCancelled, bus.TaskDeleted,
	} {
		b.Subscribe(et, br.forward)
	}
	return br
}

// Connect registers a connection. A fresh connection receives only
// broadcast events until it subscribes to channels or minions.
func (br *Bridge) Connect(c Conn) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.conns[c] = struct{}{}
}

// Disconnect removes a connection from every set it appears in. No
// orphaned entries may survive a disconnect.
func (br *Bridge) Disconnect(c Conn) {
	br.mu.Lock()
	defer br.mu.Unlock()
	delete(br.conns, c)
	for id, set := range br.byChannel {
		delete(set, c)
		if len(set) == 0 {
			delete(br.byChannel, id)
		}
	}
	for id, set := range br.byMinion {
		delete(set, c)
		if len(set) == 0 {
			delete(br.byMinion, id)
		}
	}
}

// SubscribeChannel opts a connection in to a channel's events.
func (br *Bridge) SubscribeChannel(c Conn, channelID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.conns[c] = struct{}{}
	set, ok := br.byChannel[channelID]
	if !ok {
		set = make(map[Conn]struct{})
		br.byChannel[channelID] = set
	}
	set[c] = struct{}{}
}

// UnsubscribeChannel opts a connection out. Unsubscribing from a channel
// the connection never subscribed to is a silent no-op.
func (br *Bridge) UnsubscribeChannel(c Conn, channelID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if set, ok := br.byChannel[channelID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(br.byChannel, channelID)
		}
	}
}

// SubscribeMinion opts a connection in to a minion's status events.
func (br *Bridge) SubscribeMinion(c Conn, minionID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.conns[c] = struct{}{}
	set, ok := br.byMinion[minionID]
	if !ok {
		set = make(map[Conn]struct{})
		br.byMinion[minionID] = set
	}
	set[c] = struct{}{}
}

// UnsubscribeMinion opts a connection out; not-subscribed is a no-op.
func (br *Bridge) UnsubscribeMinion(c Conn, minionID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if set, ok := br.byMinion[minionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(br.byMinion, minionID)
		}
	}
}

// forward routes one bus event to the connections subscribed at delivery
// time. Channel-scoped events go to the channel set, minion-scoped events
// to the minion set; lifecycle and task events broadcast to every
// connection so clients can discover new ids to subscribe to. A despawn
// or channel deletion also drops the dead id's subscription set, so no
// entry outlives the entity it refers to.
func (br *Bridge) forward(ev bus.Event) {
	n := Notification{Name: string(ev.Type), Data: ev.Data}

	var targets []Conn
	br.mu.Lock()
	switch ev.Type {
	case bus.MinionDespawned:
		minionID, _ := ev.Data["minion_id"].(string)
		delete(br.byMinion, minionID)
		for c := range br.conns {
			targets = append(targets, c)
		}
	case bus.ChannelDeleted:
		channelID, _ := ev.Data["channel_id"].(string)
		for c := range br.byChannel[channelID] {
			targets = append(targets, c)
		}
		delete(br.byChannel, channelID)
	case bus.ChannelMessage, bus.ChannelMemberAdded, bus.ChannelMemberRemoved:
		channelID, _ := ev.Data["channel_id"].(string)
		for c := range br.byChannel[channelID] {
			targets = append(targets, c)
		}
	case bus.MinionStatusChanged, bus.MinionEmotionalUpdated, bus.MinionError:
		minionID, _ := ev.Data["minion_id"].(string)
		for c := range br.byMinion[minionID] {
			targets = append(targets, c)
		}
	default:
		// channel.created, minion.spawned, task.* are discovery
		// events.
		for c := range br.conns {
			targets = append(targets, c)
		}
	}
	br.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(n); err != nil {
			log.Printf("bridge: send %s failed: %v", n.Name, err)
		}
	}
}
