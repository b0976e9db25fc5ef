package pm5

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	TransportUnavailable ErrorKind = "transport_unavailable"
	DiscoveryFailed      ErrorKind = "discovery_failed"
	ConnectFailed        ErrorKind = "connect_failed"
	ResolutionFailed     ErrorKind = "resolution_failed"
	MalformedPacket      ErrorKind = "malformed_packet"
	ReadFailed           ErrorKind = "read_failed"
)

// Error is a classified session failure.
//
// errors.Is matches on Kind, so callers compare against the Err* sentinels:
//
//	if errors.Is(err, pm5.ErrDiscoveryFailed) { ... }
type Error struct {
	Kind ErrorKind
	Op   string // operation, e.g. "connect", "resolve characteristic"
	UUID string // resource involved, if any
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.UUID != "" {
		fmt.Fprintf(&b, " %s", e.UUID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Predefined sentinel errors, one per kind
var (
	ErrTransportUnavailable = &Error{Kind: TransportUnavailable}
	ErrDiscoveryFailed      = &Error{Kind: DiscoveryFailed}
	ErrConnectFailed        = &Error{Kind: ConnectFailed}
	ErrResolutionFailed     = &Error{Kind: ResolutionFailed}
	ErrMalformedPacket      = &Error{Kind: MalformedPacket}
	ErrReadFailed           = &Error{Kind: ReadFailed}
)

// Session state errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrUnknownEvent      = errors.New("unknown event type")
	// ErrStaleHandle is returned when a resolution finished after the connection it started on was torn down.
	ErrStaleHandle = errors.New("connection changed during resolution")
)

func newError(kind ErrorKind, op, uuid string, err error) *Error {
	return &Error{Kind: kind, Op: op, UUID: uuid, Err: err}
}

// Kind reports the ErrorKind of err, or "" if err is not a classified session error.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
