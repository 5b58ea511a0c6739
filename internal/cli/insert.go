package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/dataflow"
	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/infer"
	"github.com/wovenlog/weave/internal/schema"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	Database string
	Base     string
	Type     string
	Value    string
	Model    string
	Actor    string
	Cause    []string
}

// insertResult is the payload rendered after a successful write.
type insertResult struct {
	ID         string              `json:"id"`
	Valid      bool                `json:"valid"`
	Findings   []schema.FieldError `json:"findings,omitempty"`
	Derived    int                 `json:"derived"`
	Iterations int                 `json:"iterations"`
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Append one event and run inference, validation and guards",
		Long: `Append a single event to the graph. Missing cause and model are
inferred, schema restrictions are checked and reported (never blocking),
and matching guards run to fixpoint afterwards.

The value flag is parsed as JSON when possible, otherwise taken as a
plain string.

Example:
  weave insert --db ./weave.db --base task_1 --type status --value done
  weave insert --db ./weave.db --base task_2 --type priority --value 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Base, "base", "", "subject the event is about (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "event type (required)")
	cmd.Flags().StringVar(&opts.Value, "value", "", "event payload")
	cmd.Flags().StringVar(&opts.Model, "model", "", "schema model (inferred when empty)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "writer id (defaults to configured actor)")
	cmd.Flags().StringSliceVar(&opts.Cause, "cause", nil, "explicit cause ids (inferred when empty)")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runInsert(cmd *cobra.Command, opts *InsertOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	actor := opts.Actor
	if actor == "" {
		actor = rep.coord.Actor()
	}

	e := event.Event{
		ID:    event.UUIDv7Generator{}.NewID(),
		Base:  opts.Base,
		Kind:  event.Kind(opts.Type),
		Value: parseValue(opts.Value),
		Model: opts.Model,
		Cause: opts.Cause,
		Actor: actor,
		Date:  time.Now().UTC(),
	}
	infer.Complete(rep.store, &e)

	result := schema.Validate(rep.store, e)

	stored, inserted, err := rep.coord.Commit(ctx, e)
	if err != nil {
		return WrapExitError(ExitFailure, "insert rejected", err)
	}
	if !inserted {
		return NewExitError(ExitFailure, fmt.Sprintf("event %s already exists", stored.ID))
	}

	engine := dataflow.New(rep.store, dataflow.WithActor(actor))
	report, err := engine.ExecuteToFixpoint(ctx, e.Base)
	if err != nil {
		return WrapExitError(ExitFailure, "guard execution failed", err)
	}

	out := insertResult{
		ID:         stored.ID,
		Valid:      result.Valid,
		Findings:   result.Errors,
		Derived:    report.Generated,
		Iterations: report.Iterations,
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "inserted %s\n", out.ID)
		for _, fe := range out.Findings {
			fmt.Fprintf(w, "  finding [%s] %s: %s\n", fe.Code, fe.Field, fe.Message)
		}
		if out.Derived > 0 {
			fmt.Fprintf(w, "  %d derived event(s) in %d iteration(s)\n", out.Derived, out.Iterations)
		}
	})
}

// parseValue interprets the raw flag as JSON when it parses, otherwise
// as a plain string. "5" becomes a number, "done" stays a string.
func parseValue(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
