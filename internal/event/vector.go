package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventVector is a vector clock: one monotonically increasing counter per
// actor, plus a wall-clock timestamp of the last local update.
//
// Merge forms a semilattice (commutative, associative, idempotent), which
// is what makes clock exchange between replicas order-insensitive.
type EventVector struct {
	Counters map[string]uint64 `json:"counters"`
	Updated  time.Time         `json:"updated"`
}

// NewVector returns an empty vector clock.
func NewVector() *EventVector {
	return &EventVector{Counters: make(map[string]uint64)}
}

// Get returns the counter for an actor, zero if absent.
func (v *EventVector) Get(actor string) uint64 {
	return v.Counters[actor]
}

// Increment bumps the given actor's counter and stamps Updated.
// Strictly monotonic for the incrementing actor; all other components are
// untouched.
func (v *EventVector) Increment(actor string) {
	v.Counters[actor]++
	v.Updated = time.Now().UTC()
}

// Merge folds other into v, taking the pointwise max of every component.
// The timestamp becomes the later of the two.
func (v *EventVector) Merge(other *EventVector) {
	if other == nil {
		return
	}
	for actor, n := range other.Counters {
		if n > v.Counters[actor] {
			v.Counters[actor] = n
		}
	}
	if other.Updated.After(v.Updated) {
		v.Updated = other.Updated
	}
}

// leq reports v[x] <= other[x] for all x in v.
func (v *EventVector) leq(other *EventVector) bool {
	for actor, n := range v.Counters {
		if n > other.Get(actor) {
			return false
		}
	}
	return true
}

// HappensBefore reports whether v is causally before other: every
// component of v is <= the corresponding component of other, and at least
// one is strictly smaller.
func (v *EventVector) HappensBefore(other *EventVector) bool {
	if other == nil || !v.leq(other) {
		return false
	}
	for actor, n := range v.Counters {
		if n < other.Get(actor) {
			return true
		}
	}
	// v <= other everywhere; strictly before iff other has a component
	// that v lacks (treated as zero on our side).
	for actor, n := range other.Counters {
		if n > 0 && v.Get(actor) < n {
			return true
		}
	}
	return false
}

// Concurrent reports whether neither clock happens-before the other.
// Equal clocks are not concurrent.
func (v *EventVector) Concurrent(other *EventVector) bool {
	if other == nil {
		return false
	}
	return !v.HappensBefore(other) && !other.HappensBefore(v) && !v.Equal(other)
}

// Equal reports component-wise equality, ignoring the timestamp.
func (v *EventVector) Equal(other *EventVector) bool {
	if other == nil {
		return false
	}
	return v.leq(other) && other.leq(v)
}

// Clone returns an independent copy.
func (v *EventVector) Clone() *EventVector {
	c := &EventVector{
		Counters: make(map[string]uint64, len(v.Counters)),
		Updated:  v.Updated,
	}
	for actor, n := range v.Counters {
		c.Counters[actor] = n
	}
	return c
}

// Encode serializes the clock for attachment to an event. Encoding goes
// through json.Marshal, which sorts map keys, so equal clocks encode to
// identical strings on every replica.
func (v *EventVector) Encode() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode vector: %w", err)
	}
	return string(data), nil
}

// DecodeVector parses a serialized clock. Returns nil for an empty input
// so callers can pass Event.Vector through unguarded.
func DecodeVector(s string) (*EventVector, error) {
	if s == "" {
		return nil, nil
	}
	v := NewVector()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	if v.Counters == nil {
		v.Counters = make(map[string]uint64)
	}
	return v, nil
}
