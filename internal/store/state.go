package store

import "github.com/wovenlog/weave/internal/event"

// IndividualState folds all property events for a base into a projected
// state object: the "current value" view the dataflow engine and the UI
// layer read.
//
// Later events win per field. A nil value clears the field (compensating
// deletion). The projection always carries "id" and, when known, "model".
// The returned map is a read-only snapshot; mutating it does not touch
// the store.
func (s *GraphStore) IndividualState(base string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := map[string]any{"id": base}
	for _, e := range s.byBase[base] {
		switch {
		case e.Kind == event.KindSetModel:
			if m, ok := e.Value.(string); ok {
				state["model"] = m
			}
		case e.Kind.Property():
			if e.Value == nil {
				delete(state, string(e.Kind))
			} else {
				state[string(e.Kind)] = e.Value
			}
		}
	}
	return state
}
