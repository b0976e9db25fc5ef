package main

import (
	"errors"
	"fmt"

	"github.com/srg/pm5link/internal/device"
	"github.com/srg/pm5link/internal/pm5"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the PM5 went away while a command was streaming.
	// It is distinct from pm5.ErrNotConnected, which means no connection existed.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into a message for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the PM5 was lost."
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, pm5.ErrTransportUnavailable):
		return fmt.Sprintf("Bluetooth adapter is not available (%v). Check that it is present and that pm5link may use it.", cause(err))
	case errors.Is(err, pm5.ErrDiscoveryFailed):
		return "No PM5 found. Wake the monitor and make sure no other app is connected to it."
	case errors.Is(err, pm5.ErrConnectFailed):
		return fmt.Sprintf("Could not connect to the PM5: %v", cause(err))
	case errors.Is(err, pm5.ErrResolutionFailed):
		return fmt.Sprintf("The PM5 did not expose what was needed: %v", err)
	case errors.Is(err, pm5.ErrReadFailed):
		return fmt.Sprintf("Failed to read from the PM5: %v", cause(err))
	case errors.Is(err, pm5.ErrMalformedPacket):
		return fmt.Sprintf("Malformed packet: %v", cause(err))
	default:
		return err.Error()
	}
}

// cause returns the underlying error of a classified session error.
func cause(err error) error {
	var e *pm5.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}
