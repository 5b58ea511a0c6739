package testutil

import (
	"time"

	"github.com/wovenlog/weave/internal/event"
)

// EventBuilder assembles test events with sensible defaults so tests
// only spell out the fields they assert on.
type EventBuilder struct {
	e event.Event
}

// NewEvent starts a builder for an event with the given id. Defaults:
// actor "tester", date 2024-01-01T00:00:00Z, cause [root].
func NewEvent(id string) *EventBuilder {
	return &EventBuilder{e: event.Event{
		ID:    id,
		Actor: "tester",
		Date:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Cause: []string{event.RootID},
	}}
}

func (b *EventBuilder) Base(base string) *EventBuilder  { b.e.Base = base; return b }
func (b *EventBuilder) Kind(k event.Kind) *EventBuilder { b.e.Kind = k; return b }
func (b *EventBuilder) Value(v any) *EventBuilder       { b.e.Value = v; return b }
func (b *EventBuilder) Model(m string) *EventBuilder    { b.e.Model = m; return b }
func (b *EventBuilder) Actor(a string) *EventBuilder    { b.e.Actor = a; return b }
func (b *EventBuilder) Date(t time.Time) *EventBuilder  { b.e.Date = t; return b }
func (b *EventBuilder) Vector(v string) *EventBuilder   { b.e.Vector = v; return b }
func (b *EventBuilder) Cause(ids ...string) *EventBuilder {
	b.e.Cause = ids
	return b
}

// Build returns the assembled event.
func (b *EventBuilder) Build() event.Event { return b.e }
