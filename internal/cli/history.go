package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/event"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// historyEntry is one ancestor in the cause closure.
type historyEntry struct {
	ID    string   `json:"id"`
	Base  string   `json:"base,omitempty"`
	Kind  string   `json:"type,omitempty"`
	Value any      `json:"value,omitempty"`
	Actor string   `json:"actor,omitempty"`
	Date  string   `json:"date,omitempty"`
	Cause []string `json:"cause,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Trace an event's cause closure back to the root",
		Long: `Walk the cause graph of one event breadth first and print every
ancestor down to the genesis root. This is the full provenance of a
fact: every event that had to happen for it to exist.

Example:
  weave history --db ./weave.db 018f3c-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, id string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	start := rep.store.Get(id)
	if start == nil && !event.IsGenesis(id) {
		return NewExitError(ExitFailure, fmt.Sprintf("unknown event id %q", id))
	}

	entries := []historyEntry{entryFor(rep, id)}
	for _, anc := range rep.store.Ancestors(id) {
		entries = append(entries, entryFor(rep, anc))
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return f.Success(entries, func(w io.Writer) {
		for i, e := range entries {
			marker := "└─"
			if i == 0 {
				marker = "●"
			}
			if e.Base == "" {
				fmt.Fprintf(w, "%s %s\n", marker, e.ID)
				continue
			}
			fmt.Fprintf(w, "%s %s %s base=%s value=%v actor=%s\n",
				marker, e.ID, e.Kind, e.Base, e.Value, e.Actor)
		}
	})
}

func entryFor(rep *replica, id string) historyEntry {
	e := rep.store.Get(id)
	if e == nil {
		// Genesis ids and dangling references have no stored event.
		return historyEntry{ID: id}
	}
	return historyEntry{
		ID:    e.ID,
		Base:  e.Base,
		Kind:  string(e.Kind),
		Value: e.Value,
		Actor: e.Actor,
		Date:  e.Date.Format(time.RFC3339Nano),
		Cause: e.Cause,
	}
}
