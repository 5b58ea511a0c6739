package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wovenlog/weave/internal/event"
)

// GraphStore is the append-only event log plus its derived indices.
//
// CRITICAL: All mutation is serialized behind one mutex. The acyclicity
// and reachability checks need a consistent snapshot of the graph; two
// concurrent inserts validated against stale views could jointly admit a
// cycle. Reads take the same lock via RLock.
//
// Events are never mutated or physically deleted once admitted. Logical
// deletion is a new compensating event. The only post-insert writes are
// the Synced flag (MarkSynced).
type GraphStore struct {
	mu       sync.RWMutex
	events   []*event.Event // insertion order
	byID     map[string]*event.Event
	byBase   map[string][]*event.Event
	byKind   map[event.Kind][]*event.Event
	byActor  map[string][]*event.Event
	children map[string][]*event.Event

	persist Persistence
	logger  *slog.Logger
}

// Option configures a GraphStore.
type Option func(*GraphStore)

// WithPersistence attaches a durable backend. Every admitted event is
// appended through it; failures fail the insert.
func WithPersistence(p Persistence) Option {
	return func(s *GraphStore) { s.persist = p }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *GraphStore) { s.logger = l }
}

// New creates an empty in-memory store.
func New(opts ...Option) *GraphStore {
	s := &GraphStore{
		byID:     make(map[string]*event.Event),
		byBase:   make(map[string][]*event.Event),
		byKind:   make(map[event.Kind][]*event.Event),
		byActor:  make(map[string][]*event.Event),
		children: make(map[string][]*event.Event),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (or creates) a SQLite-backed store at path and hydrates the
// in-memory graph from the persisted log. Rows that fail to decode are
// skipped with a log line; one corrupt row never blocks the rest of the
// load.
func Open(ctx context.Context, path string, opts ...Option) (*GraphStore, error) {
	p, err := OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts = append(opts, WithPersistence(p))
	s := New(opts...)

	events, err := p.LoadEvents(ctx)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open store: load events: %w", err)
	}
	for i := range events {
		s.hydrate(&events[i])
	}
	return s, nil
}

// Close releases the persistence backend, if any.
func (s *GraphStore) Close() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.Close()
}

// Persistence returns the attached backend, nil for a pure in-memory
// store. The sync coordinator uses it for clock and pending-queue state.
func (s *GraphStore) Persistence() Persistence {
	return s.persist
}

// Insert validates and appends a candidate event.
//
// Returns (stored, inserted, err). A duplicate id is not an error: the
// existing record comes back with inserted=false and the store is
// untouched (idempotent append). Structural failures, missing cause
// dependencies and cycles are rejected with an *InsertError; cycles are
// never admitted, a repair pass re-derives causes instead.
func (s *GraphStore) Insert(ctx context.Context, e event.Event) (*event.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.CheckStructure(); err != nil {
		return nil, false, &InsertError{Code: InsertStructural, ID: e.ID, Message: err.Error()}
	}

	if existing, ok := s.byID[e.ID]; ok {
		return existing, false, nil
	}

	if len(e.Cause) == 0 && !event.IsGenesis(e.ID) {
		return nil, false, &InsertError{
			Code:    InsertStructural,
			ID:      e.ID,
			Message: "non-genesis event has empty cause",
		}
	}

	var missing []string
	for _, c := range e.Cause {
		if _, ok := s.byID[c]; !ok && !event.IsGenesis(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, false, &InsertError{
			Code:    InsertDependencyMissing,
			ID:      e.ID,
			Missing: missing,
			Message: fmt.Sprintf("%d cause(s) not present", len(missing)),
		}
	}

	// Acyclicity: if the candidate's own id is reachable from its
	// cause set, admitting it would close a cycle.
	if s.reachableLocked(e.Cause, e.ID) {
		return nil, false, &InsertError{
			Code:    InsertCycle,
			ID:      e.ID,
			Message: "cause chain reaches the event itself",
		}
	}

	stored := e.Clone()
	if s.persist != nil {
		if err := s.persist.AppendEvent(ctx, *stored); err != nil {
			return nil, false, fmt.Errorf("persist event %s: %w", e.ID, err)
		}
	}
	s.index(stored)

	s.logger.Debug("event inserted",
		"id", stored.ID,
		"base", stored.Base,
		"type", string(stored.Kind),
		"actor", stored.Actor,
	)
	return stored, true, nil
}

// hydrate indexes an already-persisted event without re-validating or
// re-persisting it. Load path only.
func (s *GraphStore) hydrate(e *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[e.ID]; ok {
		return
	}
	s.index(e.Clone())
}

// index adds an event to every derived index. Caller holds mu.
func (s *GraphStore) index(e *event.Event) {
	s.events = append(s.events, e)
	s.byID[e.ID] = e
	s.byBase[e.Base] = append(s.byBase[e.Base], e)
	s.byKind[e.Kind] = append(s.byKind[e.Kind], e)
	s.byActor[e.Actor] = append(s.byActor[e.Actor], e)
	for _, c := range e.Cause {
		s.children[c] = append(s.children[c], e)
	}
}

// Reset replaces the entire log and rebuilds every index. Used by the
// rebuild pass, which recomputes causes and models wholesale. Persistence
// is not rewritten; the log on disk stays append-only.
func (s *GraphStore) Reset(events []*event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.byID = make(map[string]*event.Event)
	s.byBase = make(map[string][]*event.Event)
	s.byKind = make(map[event.Kind][]*event.Event)
	s.byActor = make(map[string][]*event.Event)
	s.children = make(map[string][]*event.Event)
	for _, e := range events {
		if _, ok := s.byID[e.ID]; ok {
			continue
		}
		s.index(e.Clone())
	}
}

// Get returns the event with the given id, nil if absent.
func (s *GraphStore) Get(id string) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Has reports whether id is present or is a genesis id (genesis ids are
// resolvable even when not materialized as rows).
func (s *GraphStore) Has(id string) bool {
	if event.IsGenesis(id) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of stored events.
func (s *GraphStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All returns a snapshot of the log in insertion order.
func (s *GraphStore) All() []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByBase returns all events for a base, in insertion order.
func (s *GraphStore) ByBase(base string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*event.Event(nil), s.byBase[base]...)
}

// ByKind returns all events of a kind, in insertion order.
func (s *GraphStore) ByKind(kind event.Kind) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*event.Event(nil), s.byKind[kind]...)
}

// ByActor returns all events by an actor, in insertion order.
func (s *GraphStore) ByActor(actor string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*event.Event(nil), s.byActor[actor]...)
}

// Latest returns the most recently inserted event matching (base, kind),
// nil if none.
func (s *GraphStore) Latest(base string, kind event.Kind) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byBase[base]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Kind == kind {
			return list[i]
		}
	}
	return nil
}

// LatestForKey returns the head of the (actor, model, base) chain,
// nil if the key has no events yet.
func (s *GraphStore) LatestForKey(actor, model, base string) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byBase[base]
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		if e.Actor == actor && e.Model == model {
			return e
		}
	}
	return nil
}

// LatestByBase returns the most recent event for a base, any actor.
func (s *GraphStore) LatestByBase(base string) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byBase[base]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// LatestByActor returns the most recent event by an actor, any base.
func (s *GraphStore) LatestByActor(actor string) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byActor[actor]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// LatestMatch returns the most recent event satisfying pred, nil if none.
func (s *GraphStore) LatestMatch(pred func(*event.Event) bool) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if pred(s.events[i]) {
			return s.events[i]
		}
	}
	return nil
}

// ModelOf returns the model currently governing a base: the value of its
// latest SetModel event, else the model of its Individual event, else "".
func (s *GraphStore) ModelOf(base string) string {
	if sm := s.Latest(base, event.KindSetModel); sm != nil {
		if m, ok := sm.Value.(string); ok {
			return m
		}
	}
	if ind := s.Latest(base, event.KindIndividual); ind != nil {
		return ind.Model
	}
	return ""
}

// MarkSynced flips the Synced flag on the given events, in memory and in
// the persistence backend when one is attached.
func (s *GraphStore) MarkSynced(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, ok := s.byID[id]
		if !ok || e.Synced {
			continue
		}
		e.Synced = true
		if s.persist != nil {
			if err := s.persist.MarkSynced(ctx, id); err != nil {
				return fmt.Errorf("mark synced %s: %w", id, err)
			}
		}
	}
	return nil
}

// Unsynced returns events not yet acknowledged by a peer, in insertion
// order. The outbound half of a sync exchange.
func (s *GraphStore) Unsynced() []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*event.Event
	for _, e := range s.events {
		if !e.Synced {
			out = append(out, e)
		}
	}
	return out
}
