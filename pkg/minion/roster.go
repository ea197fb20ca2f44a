package minion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"legion/pkg/bus"
	"legion/pkg/emotion"
	"legion/pkg/entity"
	"legion/pkg/memory"
	"legion/pkg/store"
)

// Roster manages the set of active minion runtimes. It owns the runtime
// map and the single bus subscription that fans channel.message events out
// to eligible runtimes; eligibility is channel membership.
type Roster struct {
	cfg      Config
	bus      *bus.Bus
	st       *store.Store
	invoker  Invoker
	engine   *emotion.Engine
	memories *memory.Store

	mu       sync.Mutex
	runtimes map[string]*Runtime
	cancels  map[string]context.CancelFunc

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// NewRoster creates a Roster and subscribes it to channel.message events.
func NewRoster(cfg Config, b *bus.Bus, st *store.Store, inv Invoker, eng *emotion.Engine, mem *memory.Store) *Roster {
	r := &Roster{
		cfg:      cfg.withDefaults(),
		bus:      b,
		st:       st,
		invoker:  inv,
		engine:   eng,
		memories: mem,
		runtimes: make(map[string]*Runtime),
		cancels:  make(map[string]context.CancelFunc),
		nowFunc:  time.Now,
	}
	b.Subscribe(bus.ChannelMessage, r.routeMessage)
	return r
}

// Spawn creates a minion, persists it, starts its runtime, and publishes
// minion.spawned. The persona name is required.
func (r *Roster) Spawn(ctx context.Context, id string, p entity.Persona) (*entity.Minion, error) {
	if id == "" {
		return nil, &entity.ValidationError{Field: "minion_id", Reason: "empty"}
	}
	if p.Name == "" {
		return nil, &entity.ValidationError{Field: "persona.name", Reason: "empty"}
	}

	m := entity.Minion{
		ID:        id,
		Persona:   p,
		Emotional: emotion.Baseline(),
		Status:    entity.StatusSpawning,
		CreatedAt: r.nowFunc(),
	}
	rt := NewRuntime(m, r.cfg, r.bus, r.st, r.invoker, r.engine, r.memories)
	runCtx, cancel := context.WithCancel(context.Background())

	// Reserve the id in one critical section so two concurrent Spawns of
	// the same id cannot both pass the exists check.
	r.mu.Lock()
	if _, exists := r.runtimes[id]; exists {
		r.mu.Unlock()
		cancel()
		return nil, &entity.InvariantError{Entity: "minion", ID: id, Reason: "already spawned"}
	}
	r.runtimes[id] = rt
	r.cancels[id] = cancel
	r.mu.Unlock()

	unregister := func() {
		cancel()
		r.mu.Lock()
		delete(r.runtimes, id)
		delete(r.cancels, id)
		r.mu.Unlock()
	}

	if err := r.st.PutMinion(ctx, m); err != nil {
		unregister()
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	go rt.Run(runCtx)

	m.Status = entity.StatusActive
	if err := r.st.UpdateMinionStatus(ctx, id, entity.StatusActive); err != nil {
		unregister()
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	r.bus.Publish(bus.MinionSpawned, map[string]any{
		"minion_id": id,
		"name":      p.Name,
	}, "roster")
	return &m, nil
}

// Despawn stops a minion's runtime and removes every trace of it from the
// live system: its runtime, its channel memberships, and its memories. The
// stored minion row is kept with status despawned.
func (r *Roster) Despawn(ctx context.Context, id string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	if ok {
		delete(r.runtimes, id)
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	if !ok {
		return &entity.NotFoundError{Entity: "minion", ID: id}
	}
	cancel()

	if err := r.st.RemoveMemberEverywhere(ctx, id); err != nil {
		return fmt.Errorf("despawn %s: %w", id, err)
	}
	if r.memories != nil {
		if err := r.memories.Forget(ctx, id); err != nil {
			return fmt.Errorf("despawn %s: %w", id, err)
		}
	}
	if err := r.st.UpdateMinionStatus(ctx, id, entity.StatusDespawned); err != nil {
		return fmt.Errorf("despawn %s: %w", id, err)
	}

	r.bus.Publish(bus.MinionDespawned, map[string]any{"minion_id": id}, "roster")
	return nil
}

// StopAll cancels every runtime. Used on shutdown; no events are emitted.
func (r *Roster) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.runtimes, id)
		delete(r.cancels, id)
	}
}

// Runtime returns the live runtime for a minion, if any.
func (r *Roster) Runtime(id string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[id]
	return rt, ok
}

// Active returns the number of live runtimes.
func (r *Roster) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

// routeMessage is the bus handler for channel.message. It offers the event
// to every active runtime whose minion is a member of the channel; each
// runtime's own policy then decides participation.
func (r *Roster) routeMessage(ev bus.Event) {
	channelID, _ := ev.Data["channel_id"].(string)
	if channelID == "" {
		// Routing error: unroutable event, drop here rather than panic.
		return
	}

	r.mu.Lock()
	candidates := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		candidates = append(candidates, rt)
	}
	r.mu.Unlock()

	ctx := context.Background()
	for _, rt := range candidates {
		member, err := r.st.IsMember(ctx, channelID, rt.ID())
		if err != nil || !member {
			continue
		}
		rt.Offer(ev)
	}
}
