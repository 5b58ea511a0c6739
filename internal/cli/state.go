package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state <base>",
		Short: "Show the materialized state of an individual",
		Long: `Fold the event history of one base into its current state: the latest
value per property plus the model the individual belongs to.

Example:
  weave state --db ./weave.db task_1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runState(cmd *cobra.Command, opts *StateOptions, base string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	if len(rep.store.ByBase(base)) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no events for base %q", base))
	}

	state := rep.store.IndividualState(base)
	out := map[string]any{
		"base":  base,
		"model": rep.store.ModelOf(base),
		"state": state,
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s)\n", base, rep.store.ModelOf(base))
		keys := make([]string, 0, len(state))
		for k := range state {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, state[k])
		}
	})
}
