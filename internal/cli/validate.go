package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/compiler"
	"github.com/wovenlog/weave/internal/event"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <schema.cue>",
		Short: "Check a CUE schema without touching any database",
		Long: `Compile a CUE schema file and report what it would seed. Nothing is
written; compile errors come back with field and position.

Example:
  weave validate ./schema/tasks.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args[0])
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, path string) error {
	events, err := compiler.New().LoadFile(path)
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			_ = f.Error("COMPILE", ce.Error(), map[string]string{"field": ce.Field})
			return NewExitError(ExitFailure, "schema invalid")
		}
		return WrapExitError(ExitCommandError, "failed to compile schema", err)
	}

	models := 0
	for _, e := range events {
		if e.Kind == event.KindModel {
			models++
		}
	}
	out := map[string]any{"models": models, "events": len(events)}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "ok: %d model(s), %d seed event(s)\n", models, len(events))
		if opts.Verbose {
			for _, e := range events {
				fmt.Fprintf(w, "  %s base=%s value=%v\n", e.Kind, e.Base, e.Value)
			}
		}
	})
}
