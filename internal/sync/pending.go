package sync

import (
	"context"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/metrics"
	"github.com/wovenlog/weave/internal/store"
)

// PendingTTL is how long an event may wait for its missing cause before
// it is dropped.
const PendingTTL = time.Hour

// PendingQueue holds events whose sole missing cause may still arrive.
// Entries survive restarts through the store's persistence backend.
type PendingQueue struct {
	mu      gosync.Mutex
	entries map[string]store.PendingRecord
	persist store.Persistence
	logger  *slog.Logger
}

func NewPendingQueue(persist store.Persistence, logger *slog.Logger) *PendingQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingQueue{
		entries: make(map[string]store.PendingRecord),
		persist: persist,
		logger:  logger,
	}
}

// Load hydrates the queue from persistence.
func (q *PendingQueue) Load(ctx context.Context) error {
	if q.persist == nil {
		return nil
	}
	recs, err := q.persist.LoadPending(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range recs {
		q.entries[rec.Event.ID] = rec
	}
	metrics.PendingEvents.Set(float64(len(q.entries)))
	return nil
}

// Enqueue parks an event waiting on one missing cause. Re-enqueueing the
// same id refreshes the record but keeps the original EnqueuedAt, so the
// TTL measures total waiting time.
func (q *PendingQueue) Enqueue(ctx context.Context, e event.Event, missing string, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec := store.PendingRecord{Event: e, MissingCause: missing, EnqueuedAt: now}
	if prev, ok := q.entries[e.ID]; ok {
		rec.EnqueuedAt = prev.EnqueuedAt
	}
	q.entries[e.ID] = rec
	metrics.PendingEvents.Set(float64(len(q.entries)))

	if q.persist != nil {
		if err := q.persist.SavePending(ctx, rec); err != nil {
			q.logger.Warn("pending: persist failed", "id", e.ID, "error", err)
		}
	}
	q.logger.Debug("pending: queued", "id", e.ID, "missing", missing)
}

// Remove drops an entry, usually because it was promoted.
func (q *PendingQueue) Remove(ctx context.Context, eventID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(ctx, eventID)
}

func (q *PendingQueue) removeLocked(ctx context.Context, eventID string) {
	if _, ok := q.entries[eventID]; !ok {
		return
	}
	delete(q.entries, eventID)
	metrics.PendingEvents.Set(float64(len(q.entries)))
	if q.persist != nil {
		if err := q.persist.DeletePending(ctx, eventID); err != nil {
			q.logger.Warn("pending: delete failed", "id", eventID, "error", err)
		}
	}
}

// Expire drops entries older than PendingTTL and returns how many.
func (q *PendingQueue) Expire(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	expired := 0
	for id, rec := range q.entries {
		if now.Sub(rec.EnqueuedAt) > PendingTTL {
			q.logger.Warn("pending: expired waiting for cause",
				"id", id, "missing", rec.MissingCause, "waited", now.Sub(rec.EnqueuedAt))
			q.removeLocked(ctx, id)
			expired++
		}
	}
	return expired
}

// Ready returns the entries whose missing cause is now resolvable,
// oldest first for a deterministic promotion order.
func (q *PendingQueue) Ready(s *store.GraphStore) []store.PendingRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []store.PendingRecord
	for _, rec := range q.entries {
		if s.Has(rec.MissingCause) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].Event.ID < out[j].Event.ID
	})
	return out
}

// Len returns the number of queued events.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
