package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wovenlog/weave/internal/httpapi"
	"github.com/wovenlog/weave/internal/logging"
	"github.com/wovenlog/weave/internal/sync"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a replica: HTTP sync API plus periodic peer exchange",
		Long: `Open the event database, expose the sync protocol over HTTP and keep
exchanging events with the configured peers until interrupted.

Example:
  weave serve --db ./weave.db
  weave serve --config ./weave.yaml --listen :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rep, err := openReplica(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer rep.close()

	logger := logging.New(rep.cfg.Environment)
	listen := rep.cfg.ListenAddr
	if opts.Listen != "" {
		listen = opts.Listen
	}

	srv := &http.Server{
		Addr:    listen,
		Handler: httpapi.NewServer(rep.store, rep.coord, logger).Router(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, peer := range rep.cfg.Peers {
		client := sync.NewClient(peer, rep.store, rep.coord,
			sync.WithClientLogger(logger), sync.WithProbeTimeout(rep.cfg.ProbeTimeout))
		go client.Run(ctx, rep.cfg.SyncInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("replica listening",
			"addr", listen, "actor", rep.coord.Actor(),
			"policy", rep.coord.Policy(), "peers", len(rep.cfg.Peers))
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Replica %s listening on %s. Press Ctrl-C to stop.\n",
		rep.coord.Actor(), listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown failed", err)
		}
	}

	logger.Info("replica stopped")
	return nil
}
