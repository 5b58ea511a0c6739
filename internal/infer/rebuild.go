package infer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
)

// Report summarizes a rebuild run. It exists for observability, not
// correctness: correctness comes from the invariant checks themselves.
type Report struct {
	Events         int           `json:"events"`
	ModelsFixed    int           `json:"models_fixed"`
	CausesFixed    int           `json:"causes_fixed"`
	ChainsValid    int           `json:"chains_valid"`
	ChainsRelinked int           `json:"chains_relinked"`
	ChainsBroken   int           `json:"chains_broken"`
	Duration       time.Duration `json:"duration"`
}

// Rebuild repairs the store's derived structure in place. Idempotent:
// running it twice fixes nothing the second time.
//
// Two ordered passes over all events sorted by timestamp: pass 1
// recomputes every model from the inference table; pass 2 recomputes
// every cause restricted to already-processed (earlier) events, which
// rules out forward references. A final validation pass walks every
// non-genesis chain to root and re-links broken ones to the best
// available semantic anchor.
//
// The persisted log is not rewritten; the repair applies to the derived
// in-memory view the indices and queries are built from.
func Rebuild(ctx context.Context, s *store.GraphStore) (Report, error) {
	start := time.Now()
	var report Report

	events := s.All()
	report.Events = len(events)

	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	// Pass 1: models, against the full snapshot.
	working := make([]*event.Event, len(sorted))
	for i, e := range sorted {
		c := e.Clone()
		if !event.IsGenesis(c.ID) {
			if m := InferModel(s, *c); m != c.Model {
				c.Model = m
				report.ModelsFixed++
			}
		}
		working[i] = c
	}

	// Pass 2: causes, restricted to earlier events. The partial store
	// grows as we go, so InferCause can only anchor backwards.
	partial := store.New()
	for _, c := range working {
		if !event.IsGenesis(c.ID) && !causeResolvable(partial, c) {
			bare := *c
			bare.Cause = nil
			c.Cause = InferCause(partial, bare)
			report.CausesFixed++
		}
		if _, _, err := partial.Insert(ctx, *c); err != nil {
			// Recomputed causes always resolve against the partial
			// store; anything left is re-anchored at the root rather
			// than dropped from the log.
			slog.Warn("rebuild: re-anchoring event at root", "id", c.ID, "error", err)
			c.Cause = []string{event.RootID}
			report.CausesFixed++
			if _, _, err := partial.Insert(ctx, *c); err != nil {
				return report, err
			}
		}
	}

	// Final pass: chain validation with semantic re-linking.
	relink := make(map[string][]string)
	for _, c := range partial.All() {
		if event.IsGenesis(c.ID) {
			continue
		}
		if err := partial.ValidateChainToRoot(c.ID, 0); err == nil {
			report.ChainsValid++
			continue
		}
		bare := *c
		bare.Cause = nil
		if anchor, ok := semanticDefault(partial, bare); ok && partial.ValidateChainToRoot(anchor, 0) == nil {
			relink[c.ID] = []string{anchor}
			report.ChainsRelinked++
		} else {
			relink[c.ID] = []string{event.RootID}
			report.ChainsBroken++
		}
	}

	final := partial.All()
	for _, c := range final {
		if cause, ok := relink[c.ID]; ok {
			c.Cause = cause
		}
	}
	s.Reset(final)

	report.Duration = time.Since(start)
	slog.Info("rebuild complete",
		"events", report.Events,
		"models_fixed", report.ModelsFixed,
		"causes_fixed", report.CausesFixed,
		"chains_valid", report.ChainsValid,
		"chains_relinked", report.ChainsRelinked,
		"chains_broken", report.ChainsBroken,
		"duration", report.Duration,
	)
	return report, nil
}

// causeResolvable reports whether every cause id resolves within the
// partial (earlier-events-only) store.
func causeResolvable(partial *store.GraphStore, e *event.Event) bool {
	if len(e.Cause) == 0 {
		return false
	}
	for _, c := range e.Cause {
		if !partial.Has(c) {
			return false
		}
	}
	return true
}
