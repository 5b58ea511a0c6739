package store

import "github.com/wovenlog/weave/internal/event"

// DefaultChainDepth bounds the chain-to-root walk. Legitimate chains are
// far shorter; the bound turns a corrupted graph into a reported error
// instead of an unbounded traversal.
const DefaultChainDepth = 100

// Ancestors returns the full transitive cause closure of id, deduplicated,
// in breadth-first discovery order. The event itself is not included.
//
// Iterative queue + visited set; no recursion, allocation bounded by the
// closure size.
func (s *GraphStore) Ancestors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ancestorsLocked(id)
}

func (s *GraphStore) ancestorsLocked(id string) []string {
	start, ok := s.byID[id]
	if !ok {
		return nil
	}

	var out []string
	visited := make(map[string]bool)
	queue := append([]string(nil), start.Cause...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		if e, ok := s.byID[cur]; ok {
			queue = append(queue, e.Cause...)
		}
	}
	return out
}

// reachableLocked reports whether target is reachable from any of the
// given cause ids. Caller holds mu.
func (s *GraphStore) reachableLocked(from []string, target string) bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), from...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if e, ok := s.byID[cur]; ok {
			queue = append(queue, e.Cause...)
		}
	}
	return false
}

// Children returns the events whose cause set contains id.
func (s *GraphStore) Children(id string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*event.Event(nil), s.children[id]...)
}

// HappensBefore reports whether a is in the cause closure of b.
// This is the intra-replica causal order; cross-replica order comes from
// vector clocks.
func (s *GraphStore) HappensBefore(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[b]; !ok {
		return false
	}
	e := s.byID[b]
	return s.reachableLocked(e.Cause, a)
}

// ValidateChainToRoot walks the cause graph from id breadth-first and
// checks that a genesis id is reached within maxDepth levels.
// Pass maxDepth <= 0 for DefaultChainDepth.
//
// Failure is reported, not fatal: callers hand broken chains to the
// rebuild pass, which re-anchors them.
func (s *GraphStore) ValidateChainToRoot(id string, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if event.IsGenesis(id) {
		return nil
	}
	start, ok := s.byID[id]
	if !ok {
		return &ChainError{Code: ChainNoCause, ID: id}
	}
	if len(start.Cause) == 0 {
		return &ChainError{Code: ChainNoCause, ID: id}
	}

	visited := make(map[string]bool)
	frontier := append([]string(nil), start.Cause...)
	for depth := 0; depth < maxDepth; depth++ {
		if len(frontier) == 0 {
			return &ChainError{Code: ChainNoCause, ID: id}
		}
		var next []string
		for _, cur := range frontier {
			if cur == id {
				return &ChainError{Code: ChainCycle, ID: id}
			}
			if event.IsGenesis(cur) {
				return nil
			}
			if visited[cur] {
				continue
			}
			visited[cur] = true
			if e, ok := s.byID[cur]; ok {
				next = append(next, e.Cause...)
			}
		}
		frontier = next
	}
	return &ChainError{Code: ChainDepthExceeded, ID: id}
}
