package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/pm5link/internal/logbook"
	"github.com/srg/pm5link/internal/pm5"
	"github.com/srg/pm5link/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay PM5 telemetry over WebSocket",
	Long: `Connects to a PM5 and serves:

  GET /events   WebSocket stream of {"seq", "type", "data"} JSON frames
  GET /logbook  recorded workouts, newest first
  GET /healthz  liveness and client count

The server stops when the PM5 disconnects or on Ctrl+C.

Examples:
  pm5link serve --listen 127.0.0.1:8080 --record`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen string
	serveRecord bool
)

func init() {
	addConnectFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().BoolVar(&serveRecord, "record", false, "Save workout summaries to the logbook")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	applyConnectFlags(cmd, cfg)
	if serveListen != "" {
		cfg.Relay.Listen = serveListen
	}
	cmd.SilenceUsage = true

	store, err := logbook.NewSQLiteStore(cfg.Logbook.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	session, cleanup, err := openSession(ctx, cmd, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := session.Subscribe(ctx, pm5.EventDisconnect, func(pm5.Event) error {
		cancel(ErrConnectionLost)
		return nil
	}); err != nil {
		return err
	}
	if serveRecord {
		recorder := logbook.NewRecorder(store, logger)
		if _, err := session.Subscribe(ctx, pm5.EventWorkoutEnd, recorder.Listen); err != nil {
			return err
		}
	}

	srv := relay.New(session, store, logger, relay.Options{
		Listen:       cfg.Relay.Listen,
		ClientBuffer: cfg.Relay.ClientBuffer,
		WriteTimeout: cfg.Relay.WriteTimeout,
	})
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving PM5 %s on http://%s. Press Ctrl+C to stop...\n", session.Address(), cfg.Relay.Listen)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrConnectionLost) {
		return ErrConnectionLost
	}
	return nil
}
