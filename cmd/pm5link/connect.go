package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pm5link/internal/device"
	goble "github.com/srg/pm5link/internal/device/go-ble"
	"github.com/srg/pm5link/internal/pm5"
	"github.com/srg/pm5link/pkg/config"
)

// newTransport builds the BLE transport; tests replace it with a fake peripheral.
var newTransport = func(logger *logrus.Logger) (device.Transport, func()) {
	t := goble.NewTransport(logger)
	return t, func() { _ = t.Close() }
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// addConnectFlags registers the flags shared by commands that talk to a PM5.
func addConnectFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", "", "PM5 address; scans for any PM5 when empty")
	cmd.Flags().Duration("timeout", 0, "Connection timeout (default from config, 30s)")
}

// applyConnectFlags overrides config values with explicitly set flags.
func applyConnectFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("address") {
		cfg.Device.Address, _ = cmd.Flags().GetString("address")
	}
	if cmd.Flags().Changed("timeout") {
		if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
			cfg.Device.ConnectTimeout = d
		}
	}
}

// openSession connects to a PM5 and returns the session with its cleanup.
func openSession(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, sink pm5.FaultSink) (*pm5.Session, func(), error) {
	transport, closeTransport := newTransport(logger)
	session := pm5.NewSession(transport, pm5.Options{
		Address:        cfg.Device.Address,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		QueueSize:      cfg.Device.QueueSize,
		FaultSink:      sink,
		Logger:         logger,
	})

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to PM5")
	progress.Start()
	err := session.Connect(ctx)
	progress.Stop()
	if err != nil {
		closeTransport()
		return nil, nil, err
	}

	cleanup := func() {
		if err := session.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
		closeTransport()
	}
	return session, cleanup, nil
}

// readInformation reads device information with a bounded wait.
func readInformation(ctx context.Context, session *pm5.Session, timeout time.Duration) (pm5.DeviceInformation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return session.DeviceInformation(ctx)
}
