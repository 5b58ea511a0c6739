package event

import (
	"fmt"
	"time"
)

// Event is a single immutable fact in the graph. Once appended to a store
// an event never changes, with two exceptions: the Synced flag flips when a
// replica acknowledges the event, and Vector may be attached at write time.
//
// The JSON shape is the wire format exchanged between replicas:
//
//	{id, base, type, value, model, cause: [...], actor, date, vector?, synced?}
type Event struct {
	// ID is globally unique. Locally-created events use UUIDv7 so ids sort
	// by creation time; remote events keep whatever id they arrived with.
	ID string `json:"id"`

	// Base identifies the subject: an individual, a concept, or a schema
	// node (model name, attribute name).
	Base string `json:"base"`

	// Kind is the role of this event relative to Base. Structural kinds
	// are closed constants; any other value is an open property name.
	Kind Kind `json:"type"`

	// Value is the payload: a scalar or a structural reference.
	Value any `json:"value,omitempty"`

	// Model names the schema context this event is interpreted under.
	// Never empty for a non-genesis event.
	Model string `json:"model,omitempty"`

	// Cause is the ordered set of event ids this event causally depends
	// on. Non-empty for every stored event except genesis roots.
	Cause []string `json:"cause"`

	// Actor identifies the writer.
	Actor string `json:"actor"`

	// Date is the timestamp used for ordering and last-writer-wins.
	Date time.Time `json:"date"`

	// Vector is an optional serialized vector clock snapshot taken when
	// the event was written. See EventVector.Encode.
	Vector string `json:"vector,omitempty"`

	// Synced marks whether the event has been acknowledged by a peer.
	// This is the only mutable field.
	Synced bool `json:"synced,omitempty"`
}

// Clone returns a deep copy. The cause slice is copied so callers can
// mutate the clone without aliasing the original.
func (e *Event) Clone() *Event {
	c := *e
	if e.Cause != nil {
		c.Cause = make([]string, len(e.Cause))
		copy(c.Cause, e.Cause)
	}
	return &c
}

// HasCause reports whether id appears in the event's cause set.
func (e *Event) HasCause(id string) bool {
	for _, c := range e.Cause {
		if c == id {
			return true
		}
	}
	return false
}

// Key returns the (actor, model, base) serialization key. Successive
// events by one actor against one key form a total order: each must
// cause-reference the previous one.
func (e *Event) Key() string {
	return e.Actor + "\x00" + e.Model + "\x00" + e.Base
}

// GroupKey returns the (base, kind) conflict-detection key used when
// merging events from a remote replica.
func (e *Event) GroupKey() string {
	return e.Base + "\x00" + string(e.Kind)
}

// CheckStructure verifies the fields every event must carry regardless of
// schema: id, kind and actor. Missing fields are a hard reject; everything
// else is the validator's business.
func (e *Event) CheckStructure() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("event missing id")
	case e.Kind == "":
		return fmt.Errorf("event %s missing type", e.ID)
	case e.Actor == "":
		return fmt.Errorf("event %s missing actor", e.ID)
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (e *Event) String() string {
	return fmt.Sprintf("%s(%s/%s)", e.Kind, e.Base, e.ID)
}
