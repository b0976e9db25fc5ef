package main

import (
	"bytes"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/pm5link/internal/device"
	"github.com/srg/pm5link/internal/testutils"
	"github.com/srg/pm5link/pkg/config"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends PeripheralSuite with command testing utilities.
// Commands connect to the suite's fake PM5 and use a per-test logbook.
type CommandTestSuite struct {
	testutils.PeripheralSuite

	LogbookPath string
	Stderr      *syncBuffer

	prevTransport func(*logrus.Logger) (device.Transport, func())
}

func (s *CommandTestSuite) SetupTest() {
	s.PeripheralSuite.SetupTest()

	s.prevTransport = newTransport
	peripheral := s.Peripheral
	newTransport = func(*logrus.Logger) (device.Transport, func()) {
		return peripheral, func() {}
	}

	s.LogbookPath = filepath.Join(s.T().TempDir(), "logbook.db")
	s.T().Setenv(config.EnvLogbook, s.LogbookPath)
	s.T().Setenv(config.EnvAddress, "")
	s.T().Setenv(config.EnvLogLevel, "")
}

func (s *CommandTestSuite) TearDownTest() {
	newTransport = s.prevTransport
	s.PeripheralSuite.TearDownTest()
}

// resetFlags restores every flag to its default so package-level flag
// variables do not leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and returns stdout and the error.
// Stderr is kept in s.Stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := &syncBuffer{}
	s.Stderr = &syncBuffer{}
	err := executeInto(out, s.Stderr, args...)
	return out.String(), err
}

func executeInto(out, errOut *syncBuffer, args ...string) error {
	resetFlags(rootCmd)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}
