// Package infer derives the cause set and model for candidate events.
//
// Both the initial insert path and the rebuild path go through the same
// pure functions here; keeping one implementation is what stops the two
// paths from drifting apart.
package infer

import (
	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
)

// InferCause produces a non-empty cause set for a candidate against the
// current store snapshot. Priority order:
//
//  1. Caller-supplied explicit cause(s), a semantic dependency such as a
//     Condition/SetValue trigger.
//  2. Auto-chain: the most recent event sharing (actor, model, base),
//     which keeps per-key writes totally ordered.
//  3. Base history: the most recent event with the same base, any actor.
//  4. Actor chain: the most recent event by the same actor, any base.
//  5. Semantic default keyed by kind (see semanticDefault).
//  6. The designated root id.
func InferCause(s *store.GraphStore, e event.Event) []string {
	if len(e.Cause) > 0 {
		return e.Cause
	}

	if prev := s.LatestForKey(e.Actor, e.Model, e.Base); prev != nil && prev.ID != e.ID {
		return []string{prev.ID}
	}
	if prev := s.LatestByBase(e.Base); prev != nil && prev.ID != e.ID {
		return []string{prev.ID}
	}
	if prev := s.LatestByActor(e.Actor); prev != nil && prev.ID != e.ID {
		return []string{prev.ID}
	}
	if anchor, ok := semanticDefault(s, e); ok {
		return []string{anchor}
	}
	return []string{event.RootID}
}

// semanticDefault picks the kind-specific anchor:
//
//	Instance          → the root Instance genesis
//	Individual, Model → the Instance event of the candidate's concept
//	SetModel          → the Individual event of the candidate's base
//	property          → the latest SetModel of the base, else its Individual
func semanticDefault(s *store.GraphStore, e event.Event) (string, bool) {
	switch e.Kind {
	case event.KindInstance:
		return event.RootID, true

	case event.KindIndividual, event.KindModel:
		instance := s.LatestMatch(func(x *event.Event) bool {
			return x.Kind == event.KindInstance && x.ID != e.ID && valueEquals(x.Value, e.Base)
		})
		if instance != nil {
			return instance.ID, true
		}
		return "", false

	case event.KindSetModel:
		if ind := s.Latest(e.Base, event.KindIndividual); ind != nil && ind.ID != e.ID {
			return ind.ID, true
		}
		return "", false

	default:
		if sm := s.Latest(e.Base, event.KindSetModel); sm != nil && sm.ID != e.ID {
			return sm.ID, true
		}
		if ind := s.Latest(e.Base, event.KindIndividual); ind != nil && ind.ID != e.ID {
			return ind.ID, true
		}
		return "", false
	}
}

// InferModel resolves the schema context for a candidate:
//
//	Instance, Model, Role → the fixed meta-model
//	Individual            → "Model " + base
//	SetModel              → its own value
//	everything else       → the model of the base's latest SetModel,
//	                        falling back to "Model " + base
func InferModel(s *store.GraphStore, e event.Event) string {
	switch e.Kind {
	case event.KindInstance, event.KindModel, event.KindRole:
		return event.MetaModel

	case event.KindIndividual:
		return event.ModelPrefix + e.Base

	case event.KindSetModel:
		if m, ok := e.Value.(string); ok && m != "" {
			return m
		}
		return event.ModelPrefix + e.Base

	default:
		if sm := s.Latest(e.Base, event.KindSetModel); sm != nil && sm.ID != e.ID {
			if m, ok := sm.Value.(string); ok && m != "" {
				return m
			}
		}
		return event.ModelPrefix + e.Base
	}
}

// Complete fills the candidate's model and cause in place when they are
// missing. Model resolves first: the auto-chain cause rule keys on
// (actor, model, base), so the cause inference needs the final model.
// Genesis events pass through untouched.
func Complete(s *store.GraphStore, e *event.Event) {
	if event.IsGenesis(e.ID) {
		return
	}
	if e.Model == "" {
		e.Model = InferModel(s, *e)
	}
	if len(e.Cause) == 0 {
		e.Cause = InferCause(s, *e)
	}
}

func valueEquals(v any, s string) bool {
	str, ok := v.(string)
	return ok && str == s
}
