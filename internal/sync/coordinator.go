package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/metrics"
	"github.com/wovenlog/weave/internal/store"
)

// Coordinator owns the replica's sync state: the vector clock, the
// conflict policy and the pending-dependency queue. Local writes go
// through Commit so the clock increments before anything is persisted;
// remote batches go through Merge.
type Coordinator struct {
	mu       gosync.Mutex
	store    *store.GraphStore
	actor    string
	policy   Policy
	vector   *event.EventVector
	pending  *PendingQueue
	lastSync time.Time
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Coordinator)

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New builds a coordinator for a store, restoring the clock, the
// last-sync timestamp and the pending queue from the store's persistence
// backend when one is attached. A corrupt persisted clock starts fresh
// rather than failing the whole replica.
func New(ctx context.Context, s *store.GraphStore, actor string, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:  s,
		actor:  actor,
		policy: PolicyLWW,
		vector: event.NewVector(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	persist := s.Persistence()
	c.pending = NewPendingQueue(persist, c.logger)

	if persist != nil {
		if encoded, err := persist.LoadVector(ctx); err != nil {
			return nil, err
		} else if v, err := event.DecodeVector(encoded); err != nil {
			c.logger.Warn("sync: discarding corrupt vector clock", "error", err)
		} else if v != nil {
			c.vector = v
		}

		last, err := persist.LoadLastSync(ctx)
		if err != nil {
			return nil, err
		}
		c.lastSync = last

		if err := c.pending.Load(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Coordinator) Actor() string  { return c.actor }
func (c *Coordinator) Policy() Policy { return c.policy }

// Pending exposes the queue, for status reporting.
func (c *Coordinator) Pending() *PendingQueue { return c.pending }

// VectorSnapshot returns the current clock, encoded for the wire.
func (c *Coordinator) VectorSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := c.vector.Encode()
	if err != nil {
		c.logger.Error("sync: vector encode failed", "error", err)
		return ""
	}
	return encoded
}

// LastSync returns the timestamp of the last successful exchange.
func (c *Coordinator) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// RecordSync stores the timestamp of a successful exchange.
func (c *Coordinator) RecordSync(ctx context.Context, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync = t
	if persist := c.store.Persistence(); persist != nil {
		if err := persist.SaveLastSync(ctx, t); err != nil {
			c.logger.Warn("sync: persist last-sync failed", "error", err)
		}
	}
}

// Commit appends a locally-created event: the local clock component
// increments first, the updated clock is stamped onto the event, then
// the event goes through the store's normal insert path.
func (c *Coordinator) Commit(ctx context.Context, e event.Event) (*event.Event, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vector.Increment(c.actor)
	encoded, err := c.vector.Encode()
	if err != nil {
		return nil, false, err
	}
	e.Vector = encoded

	stored, inserted, err := c.store.Insert(ctx, e)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		metrics.EventsInserted.WithLabelValues("local").Inc()
		metrics.StoreEvents.Set(float64(c.store.Len()))
		c.saveVectorLocked(ctx)
	}
	return stored, inserted, nil
}

// MergeReport summarizes one Merge call.
type MergeReport struct {
	Applied   int `json:"applied"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
	Queued    int `json:"queued"`
	Promoted  int `json:"promoted"`
	Expired   int `json:"expired"`
	Rejected  int `json:"rejected"`
}

// Merge applies a batch of remote events. Per event: structural
// validation, silent duplicate skip, conflict resolution against the
// local head of the same (base, kind) key, and insertion; an event whose
// single cause is unknown goes to the pending queue. After the batch the
// queue is re-drained and expired entries dropped.
func (c *Coordinator) Merge(ctx context.Context, events []event.Event, remoteVector string) (MergeReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var report MergeReport

	if rv, err := event.DecodeVector(remoteVector); err != nil {
		c.logger.Warn("sync: ignoring corrupt remote vector", "error", err)
	} else if rv != nil {
		c.vector.Merge(rv)
	}

	for i := range events {
		c.applyLocked(ctx, events[i], &report)
	}

	c.drainLocked(ctx, &report)
	report.Expired = c.pending.Expire(ctx, c.now())
	c.saveVectorLocked(ctx)
	metrics.StoreEvents.Set(float64(c.store.Len()))

	c.logger.Info("sync: merge complete",
		"applied", report.Applied,
		"skipped", report.Skipped,
		"conflicts", report.Conflicts,
		"queued", report.Queued,
		"promoted", report.Promoted,
		"expired", report.Expired,
		"rejected", report.Rejected,
	)
	return report, nil
}

// applyLocked admits one remote event. Caller holds mu.
func (c *Coordinator) applyLocked(ctx context.Context, e event.Event, report *MergeReport) {
	if err := e.CheckStructure(); err != nil {
		report.Rejected++
		c.logger.Warn("sync: rejecting malformed remote event", "id", e.ID, "error", err)
		return
	}
	if c.store.Get(e.ID) != nil {
		report.Skipped++
		return
	}

	if ev, err := event.DecodeVector(e.Vector); err != nil {
		c.logger.Warn("sync: remote event carries corrupt vector", "id", e.ID, "error", err)
	} else if ev != nil {
		c.vector.Merge(ev)
	}

	// Conflict: a state-bearing write (property or structural, SetModel
	// included) colliding with the local head of the same (base, kind)
	// key. Only the winner is admitted; losing means not being appended,
	// nothing is rewritten. Schema declarations are exempt: different
	// models legitimately declare the same field name, and declaration
	// lookups converge by date once both sides are appended.
	if !e.Kind.Declaration() {
		if existing := c.store.Latest(e.Base, e.Kind); existing != nil {
			winner := Resolve(c.policy, existing, &e)
			report.Conflicts++
			if winner.ID == existing.ID {
				metrics.ConflictsResolved.WithLabelValues(string(c.policy), "local").Inc()
				report.Skipped++
				c.logger.Debug("sync: local event wins conflict",
					"key", e.Base+"/"+string(e.Kind), "local", existing.ID, "remote", e.ID)
				return
			}
			metrics.ConflictsResolved.WithLabelValues(string(c.policy), "remote").Inc()
		}
	}

	// The sender already has this event; admitting it synced keeps it
	// out of our next outgoing batch.
	e.Synced = true

	_, inserted, err := c.store.Insert(ctx, e)
	_, depMissing := store.IsDependencyMissing(err)
	switch {
	case err == nil:
		if inserted {
			report.Applied++
			metrics.EventsInserted.WithLabelValues("sync").Inc()
		} else {
			report.Skipped++
		}

	case depMissing:
		var ie *store.InsertError
		if errors.As(err, &ie) && len(ie.Missing) == 1 {
			c.pending.Enqueue(ctx, e, ie.Missing[0], c.now())
			report.Queued++
			return
		}
		report.Rejected++
		c.logger.Warn("sync: rejecting remote event with multiple missing causes",
			"id", e.ID, "error", err)

	default:
		report.Rejected++
		c.logger.Warn("sync: rejecting remote event", "id", e.ID, "error", err)
	}
}

// drainLocked promotes pending events whose missing cause has arrived,
// looping because one promotion can unblock the next.
func (c *Coordinator) drainLocked(ctx context.Context, report *MergeReport) {
	for {
		ready := c.pending.Ready(c.store)
		if len(ready) == 0 {
			return
		}
		progress := false
		for _, rec := range ready {
			c.pending.Remove(ctx, rec.Event.ID)
			before := report.Applied
			c.applyLocked(ctx, rec.Event, report)
			if report.Applied > before {
				report.Promoted++
				progress = true
				c.logger.Debug("sync: promoted pending event", "id", rec.Event.ID)
			}
		}
		if !progress {
			return
		}
	}
}

func (c *Coordinator) saveVectorLocked(ctx context.Context) {
	persist := c.store.Persistence()
	if persist == nil {
		return
	}
	encoded, err := c.vector.Encode()
	if err != nil {
		c.logger.Error("sync: vector encode failed", "error", err)
		return
	}
	if err := persist.SaveVector(ctx, encoded); err != nil {
		c.logger.Warn("sync: persist vector failed", "error", err)
	}
}
