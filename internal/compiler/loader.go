package compiler

import (
	"context"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
)

// CompileSource compiles CUE definition text.
func (c *Compiler) CompileSource(src string) ([]event.Event, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	return c.Compile(v)
}

// LoadFile reads and compiles a .cue definition file.
func (c *Compiler) LoadFile(path string) ([]event.Event, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileString(string(src), cue.Filename(path))
	return c.Compile(v)
}

// Seed inserts compiled seed events into a store, in order. Duplicates
// are skipped (re-seeding the same file is idempotent); any other insert
// failure aborts, since later seeds cause-link to earlier ones.
func Seed(ctx context.Context, s *store.GraphStore, events []event.Event) (int, error) {
	inserted := 0
	for _, e := range events {
		_, ok, err := s.Insert(ctx, e)
		if err != nil {
			return inserted, fmt.Errorf("seed event %s (%s %s): %w", e.ID, e.Kind, e.Base, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}
