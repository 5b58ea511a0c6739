// Package sync keeps replicas convergent: vector-clock bookkeeping,
// merge of remote events with pluggable conflict resolution, a
// pending-dependency queue, and the HTTP client that talks to peers.
package sync

import (
	"fmt"

	"github.com/wovenlog/weave/internal/event"
)

// Policy selects how concurrent writes to the same (base, kind) key are
// resolved during merge.
type Policy string

const (
	PolicyLWW           Policy = "lww"
	PolicyHappensBefore Policy = "happens-before"
	PolicyActorPriority Policy = "actor-priority"
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLWW, PolicyHappensBefore, PolicyActorPriority:
		return Policy(s), nil
	case "":
		return PolicyLWW, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// actorRank orders actors for priority resolution. Lower is stronger.
// Unranked actors sort below every ranked one.
var actorRank = map[string]int{
	event.ActorSystem: 0,
	"genesis":         1,
	"admin":           2,
	"manager":         3,
	"user":            4,
	"llm":             5,
}

func rank(actor string) int {
	if r, ok := actorRank[actor]; ok {
		return r
	}
	return len(actorRank)
}

// Resolve picks the winner between two events contending for one
// (base, kind) key. Symmetric and deterministic: Resolve(a, b) and
// Resolve(b, a) return the same event on every replica, because every
// policy bottoms out in the lexicographic id tie-break.
func Resolve(policy Policy, a, b *event.Event) *event.Event {
	switch policy {
	case PolicyHappensBefore:
		return resolveHappensBefore(a, b)
	case PolicyActorPriority:
		return resolveActorPriority(a, b)
	default:
		return resolveLWW(a, b)
	}
}

// resolveLWW: later date wins; ties fall to actor priority, then to the
// smaller id.
func resolveLWW(a, b *event.Event) *event.Event {
	if a.Date.After(b.Date) {
		return a
	}
	if b.Date.After(a.Date) {
		return b
	}
	return resolveActorPriority(a, b)
}

// resolveHappensBefore: a causally later event wins outright; concurrent
// or clockless pairs fall back to LWW.
func resolveHappensBefore(a, b *event.Event) *event.Event {
	va, errA := event.DecodeVector(a.Vector)
	vb, errB := event.DecodeVector(b.Vector)
	if errA == nil && errB == nil && va != nil && vb != nil {
		if va.HappensBefore(vb) {
			return b
		}
		if vb.HappensBefore(va) {
			return a
		}
	}
	return resolveLWW(a, b)
}

func resolveActorPriority(a, b *event.Event) *event.Event {
	ra, rb := rank(a.Actor), rank(b.Actor)
	if ra < rb {
		return a
	}
	if rb < ra {
		return b
	}
	if a.ID < b.ID {
		return a
	}
	return b
}
