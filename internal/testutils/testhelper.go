package testutils

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// NewTestLogger returns a debug-level logger, discarding output unless verbose is set.
func NewTestLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if !verbose {
		logger.SetOutput(io.Discard)
	}
	return logger
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// PeripheralSuite provides a testify suite with a fake PM5 peripheral.
//
// Basic usage (default PM5 profile):
//
//	type SessionSuite struct {
//	    testutils.PeripheralSuite
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
//
// Custom profile usage: configure the builder before calling the parent SetupTest.
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithPeripheral().WithReadError(pm5.SerialNumber.UUID, errors.New("rejected"))
//	    s.PeripheralSuite.SetupTest()
//	}
type PeripheralSuite struct {
	suite.Suite

	Logger     *logrus.Logger
	Peripheral *FakePeripheral

	builder *PeripheralBuilder
}

// WithPeripheral returns the builder used by the next SetupTest, creating a PM5 builder if needed.
func (s *PeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.builder == nil {
		s.builder = NewPM5Builder()
	}
	return s.builder
}

// SetupTest builds the configured peripheral (or a default PM5).
func (s *PeripheralSuite) SetupTest() {
	if s.Logger == nil {
		s.Logger = NewTestLogger(false)
	}
	s.Peripheral = s.WithPeripheral().Build()
}

// TearDownTest resets the builder so each test starts from the default profile.
func (s *PeripheralSuite) TearDownTest() {
	s.builder = nil
}
