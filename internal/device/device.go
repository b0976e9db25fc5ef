package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NotFoundError represents an error when a GATT resource is not found on the peer
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Host and operation errors
var (
	// ErrUnavailable means the host has no usable wireless adapter (or the platform is unsupported).
	ErrUnavailable = errors.New("bluetooth transport unavailable")
	// ErrBluetoothOff means the adapter exists but is powered off.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	// ErrNoDevice means discovery finished without a matching device.
	ErrNoDevice = errors.New("no matching device found")
	ErrTimeout  = errors.New("timeout")
)

// ConnectRequest describes which peripheral to connect to.
//
// When Address is set, the transport dials it directly. Otherwise it runs
// discovery and picks the first connectable peripheral that advertises one of
// Filters. OptionalServices lists the services the caller intends to use
// beyond the filter, for transports that require declaring them up-front.
type ConnectRequest struct {
	Filters          []string
	OptionalServices []string
	Address          string
	ConnectTimeout   time.Duration
}

// Transport opens links to peripherals.
type Transport interface {
	Connect(ctx context.Context, req *ConnectRequest) (Link, error)
}

// Link is an established GATT connection.
//
// Disconnected returns a channel closed once the link is gone, whether the
// peer dropped it or Disconnect was called.
type Link interface {
	Address() string
	Service(ctx context.Context, uuid string) (Service, error)
	Disconnected() <-chan struct{}
	Disconnect() error
}

// Service is a primary service on a Link.
type Service interface {
	UUID() string
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is a resolved characteristic handle.
//
// The buffer passed to a notification handler is owned by the handler.
type Characteristic interface {
	UUID() string
	Read(ctx context.Context) ([]byte, error)
	EnableNotifications(ctx context.Context, handler func([]byte)) error
}
