package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/compiler"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <schema.cue>",
		Short: "Compile a CUE schema and append its events to the database",
		Long: `Compile a CUE schema and seed the resulting model, restriction and
guard events into the graph. Seeding is idempotent: events already
present are skipped.

Example:
  weave seed --db ./weave.db ./schema/tasks.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	events, err := compiler.New().LoadFile(path)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return WrapExitError(ExitFailure, "schema invalid", ce)
		}
		return WrapExitError(ExitCommandError, "failed to compile schema", err)
	}

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	inserted, err := compiler.Seed(ctx, rep.store, events)
	if err != nil {
		return WrapExitError(ExitFailure, "seeding failed", err)
	}

	out := map[string]any{
		"compiled": len(events),
		"inserted": inserted,
		"skipped":  len(events) - inserted,
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "seeded %d of %d event(s) (%d already present)\n",
			inserted, len(events), len(events)-inserted)
	})
}
