package sync

import (
	"time"

	"github.com/wovenlog/weave/internal/event"
)

// Wire shapes for the replica exchange. The httpapi package serves the
// same types, so both ends marshal identically.

// SyncRequest is the body of POST /api/sync: the caller's unsynced
// events plus its clock and last successful exchange.
type SyncRequest struct {
	Events      []event.Event `json:"events"`
	LastSync    time.Time     `json:"lastSync"`
	VectorClock string        `json:"vectorClock"`
}

// SyncResponse returns the server's clock after merging, plus the events
// the caller has not seen yet.
type SyncResponse struct {
	VectorClock string        `json:"vectorClock"`
	NewEvents   []event.Event `json:"newEvents"`
}

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Events      []event.Event `json:"events"`
	VectorClock string        `json:"vectorClock"`
}
