package store

import (
	"context"
	"time"

	"github.com/wovenlog/weave/internal/event"
)

// PendingRecord is the persisted shape of a queued event waiting on a
// missing cause.
type PendingRecord struct {
	Event        event.Event
	MissingCause string
	EnqueuedAt   time.Time
}

// Persistence is the injected durable backend: the event log, the replica
// vector clock, the last-sync timestamp and the pending queue. Each piece
// of state loads independently; corruption of one key must not prevent
// loading the others.
//
// OpenSQLite provides the standard implementation; tests run the store
// without one.
type Persistence interface {
	// AppendEvent durably appends one event. Must be idempotent by id.
	AppendEvent(ctx context.Context, e event.Event) error

	// MarkSynced flips the synced flag on a stored event.
	MarkSynced(ctx context.Context, id string) error

	// LoadEvents returns the full log in append order. Undecodable rows
	// are skipped, not fatal.
	LoadEvents(ctx context.Context) ([]event.Event, error)

	// SaveVector / LoadVector persist the replica's encoded vector
	// clock. LoadVector returns "" when none is stored.
	SaveVector(ctx context.Context, encoded string) error
	LoadVector(ctx context.Context) (string, error)

	// SaveLastSync / LoadLastSync persist the last successful sync
	// timestamp. LoadLastSync returns the zero time when none is stored.
	SaveLastSync(ctx context.Context, t time.Time) error
	LoadLastSync(ctx context.Context) (time.Time, error)

	// SavePending / DeletePending / LoadPending maintain the
	// pending-dependency queue across restarts.
	SavePending(ctx context.Context, rec PendingRecord) error
	DeletePending(ctx context.Context, eventID string) error
	LoadPending(ctx context.Context) ([]PendingRecord, error)

	Close() error
}
