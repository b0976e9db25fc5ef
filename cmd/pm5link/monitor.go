package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/pm5link/internal/logbook"
	"github.com/srg/pm5link/internal/pm5"
	"github.com/srg/pm5link/internal/relay"
	"golang.org/x/time/rate"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream live rowing data",
	Long: `Connects to a PM5 and streams elapsed time and distance. End-of-workout
summaries are printed as they arrive and, with --record, saved to the logbook.
Press Ctrl+C to disconnect.

Examples:
  pm5link monitor
  pm5link monitor --address c8:2e:47:01:02:03 --record
  pm5link monitor --json | jq .`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorRecord bool
	monitorJSON   bool
	monitorRate   float64
)

func init() {
	addConnectFlags(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", false, "Save workout summaries to the logbook")
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "Print one JSON frame per event")
	monitorCmd.Flags().Float64Var(&monitorRate, "rate", 0, "Maximum live updates per second (default from config, 4)")
}

// monitorPrinter serializes output from the session's pump goroutines.
type monitorPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	tty     bool
	json    bool
	seq     uint64
	limiter *rate.Limiter
	live    bool // an in-place live line is on screen
}

func (p *monitorPrinter) event(e pm5.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := e.(pm5.LiveStatusEvent); ok && !p.limiter.Allow() {
		return nil
	}

	if p.json {
		p.seq++
		return json.NewEncoder(p.out).Encode(relay.NewFrame(p.seq, e))
	}

	switch ev := e.(type) {
	case pm5.LiveStatusEvent:
		line := formatLiveStatus(ev.Status)
		if p.tty {
			fmt.Fprintf(p.out, "%s%s", clearLineSequence, color.CyanString(line))
			p.live = true
		} else {
			fmt.Fprintln(p.out, line)
		}
	case pm5.WorkoutSummaryEvent:
		p.endLive()
		printSummary(p.out, ev.Summary)
	case pm5.DisconnectEvent:
		p.endLive()
		fmt.Fprintln(p.out, color.YellowString("Disconnected from %s", ev.Address))
	}
	return nil
}

func (p *monitorPrinter) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return
	}
	p.endLive()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *monitorPrinter) endLive() {
	if p.live {
		fmt.Fprintln(p.out)
		p.live = false
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	applyConnectFlags(cmd, cfg)
	if monitorRate > 0 {
		cfg.Monitor.RefreshRate = monitorRate
	}
	cmd.SilenceUsage = true

	var store logbook.Store
	if monitorRecord {
		s, err := logbook.NewSQLiteStore(cfg.Logbook.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	printer := &monitorPrinter{
		out:     cmd.OutOrStdout(),
		tty:     isTerminal(cmd.OutOrStdout()),
		json:    monitorJSON,
		limiter: rate.NewLimiter(rate.Limit(cfg.Monitor.RefreshRate), 1),
	}
	errOut := cmd.ErrOrStderr()
	sink := func(t pm5.EventType, err error) {
		fmt.Fprintln(errOut, color.YellowString("warning: %s: %s", t, FormatUserError(err)))
	}

	ctx, cancel := signalContext()
	defer cancel()

	session, cleanup, err := openSession(ctx, cmd, cfg, logger, sink)
	if err != nil {
		return err
	}
	defer cleanup()

	if info, err := readInformation(ctx, session, cfg.Device.ConnectTimeout); err != nil {
		logger.WithError(err).Warn("Failed to read device information")
		printer.println("Connected to %s", session.Address())
	} else {
		printer.println("Connected to PM5 %s (firmware %s)", info.SerialNumber, info.FirmwareVersion)
	}

	lost := make(chan struct{})
	var lostOnce sync.Once
	if _, err := session.Subscribe(ctx, pm5.EventDisconnect, func(e pm5.Event) error {
		err := printer.event(e)
		lostOnce.Do(func() { close(lost) })
		return err
	}); err != nil {
		return err
	}

	for _, t := range []pm5.EventType{pm5.EventWorkoutEnd, pm5.EventGeneralStatus} {
		if _, err := session.Subscribe(ctx, t, printer.event); err != nil {
			return err
		}
	}
	if store != nil {
		recorder := logbook.NewRecorder(store, logger, logbook.WithOnSaved(func(e logbook.Entry, updated bool) {
			if updated {
				printer.println("Logbook entry #%d updated with recovery heart rate %d", e.ID, e.RecoveryHeartRate)
			} else {
				printer.println("Saved to logbook as #%d", e.ID)
			}
		}))
		if _, err := session.Subscribe(ctx, pm5.EventWorkoutEnd, recorder.Listen); err != nil {
			return err
		}
	}
	printer.println("Streaming. Press Ctrl+C to stop...")

	select {
	case <-ctx.Done():
		printer.println("Disconnecting...")
		return nil
	case <-lost:
		return ErrConnectionLost
	}
}
