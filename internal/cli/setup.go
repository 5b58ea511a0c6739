package cli

import (
	"context"

	"github.com/wovenlog/weave/internal/config"
	"github.com/wovenlog/weave/internal/logging"
	"github.com/wovenlog/weave/internal/store"
	"github.com/wovenlog/weave/internal/sync"
)

// replica bundles the pieces every stateful command needs.
type replica struct {
	cfg   config.Config
	store *store.GraphStore
	coord *sync.Coordinator
}

// openReplica loads configuration, opens the backing store and restores
// sync state. dbOverride, when non-empty, beats the configured path.
func openReplica(ctx context.Context, opts *RootOptions, dbOverride string) (*replica, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbOverride != "" {
		cfg.DatabasePath = dbOverride
	}

	logger := logging.New(cfg.Environment)

	var s *store.GraphStore
	if cfg.DatabasePath == "" || cfg.DatabasePath == ":memory:" {
		s = store.New(store.WithLogger(logger))
	} else {
		s, err = store.Open(ctx, cfg.DatabasePath, store.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
	}

	policy, err := sync.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "bad conflict policy", err)
	}

	coord, err := sync.New(ctx, s, cfg.Actor, sync.WithPolicy(policy), sync.WithLogger(logger))
	if err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to restore sync state", err)
	}

	return &replica{cfg: cfg, store: s, coord: coord}, nil
}

func (r *replica) close() error {
	return r.store.Close()
}
