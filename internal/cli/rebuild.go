package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/infer"
)

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	*RootOptions
	Database string
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Repair inferred models and cause links across the whole graph",
		Long: `Re-run model and cause inference over every stored event in timestamp
order, then re-anchor any chain that no longer reaches the root. Safe to
run repeatedly: a healthy graph comes out unchanged.

Example:
  weave rebuild --db ./weave.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runRebuild(cmd *cobra.Command, opts *RebuildOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	report, err := infer.Rebuild(ctx, rep.store)
	if err != nil {
		return WrapExitError(ExitFailure, "rebuild failed", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return f.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "rebuilt %d event(s) in %s\n", report.Events, report.Duration)
		fmt.Fprintf(w, "  models fixed:    %d\n", report.ModelsFixed)
		fmt.Fprintf(w, "  causes fixed:    %d\n", report.CausesFixed)
		fmt.Fprintf(w, "  chains valid:    %d\n", report.ChainsValid)
		fmt.Fprintf(w, "  chains relinked: %d\n", report.ChainsRelinked)
		fmt.Fprintf(w, "  chains broken:   %d\n", report.ChainsBroken)
	})
}
