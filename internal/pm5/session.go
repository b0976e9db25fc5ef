package pm5

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/device"
	"github.com/srg/pm5link/internal/groutine"
	"github.com/srg/pm5link/internal/ringchan"
	"golang.org/x/sync/errgroup"
)

// DefaultQueueSize is the per-stream notification buffer used when Options.QueueSize is unset.
const DefaultQueueSize = 128

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Session.
type Options struct {
	// Address dials a known peripheral instead of scanning for the discovery service.
	Address        string
	ConnectTimeout time.Duration
	// QueueSize bounds each notification stream; the oldest buffers are dropped when full.
	QueueSize int
	// Clock stamps workout summaries. Defaults to time.Now.
	Clock     func() time.Time
	FaultSink FaultSink
	Logger    *logrus.Logger
}

// DeviceInformation holds the four information-service strings.
type DeviceInformation struct {
	ManufacturerName string `json:"manufacturerName"`
	HardwareRevision string `json:"hardwareRevision"`
	SerialNumber     string `json:"serialNumber"`
	FirmwareVersion  string `json:"firmwareVersion"`
}

// StreamStats describes one notification stream's buffer.
type StreamStats struct {
	ringchan.Metrics
	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`
}

type stream struct {
	ctx   context.Context // the connection the stream belongs to
	queue *ringchan.RingChannel[[]byte]
	ready chan struct{} // closed when arming finished
	err   error         // arming failure, set before ready is closed
}

func (st *stream) wait(ctx context.Context) error {
	select {
	case <-st.ready:
		return st.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *stream) stats() StreamStats {
	return StreamStats{
		Metrics:  st.queue.GetMetrics(),
		Buffered: st.queue.Len(),
		Capacity: st.queue.Cap(),
	}
}

// withLink derives a context that is also cancelled, with ErrNotConnected as
// its cause, when the connection behind linkCtx ends.
func withLink(ctx, linkCtx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(linkCtx, func() { cancel(ErrNotConnected) })
	return opCtx, func() {
		stop()
		cancel(nil)
	}
}

// Session manages one PM5 connection at a time and republishes its telemetry through a Hub.
//
// A Session can be reconnected after it returns to StateDisconnected. Hub
// listeners survive reconnects; telemetry streams that still have listeners
// are re-armed on every successful Connect.
type Session struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger
	hub       *Hub
	registry  *Registry

	connMu sync.Mutex // serializes Connect

	mu        sync.RWMutex
	state     State
	link      device.Link
	sessionID string
	cancel    context.CancelFunc
	connCtx   context.Context

	streamMu sync.Mutex
	streams  map[EventType]*stream
}

// NewSession creates a disconnected session. A nil transport makes Connect fail with TransportUnavailable.
func NewSession(transport device.Transport, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Session{
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
		hub:       NewHub(opts.Logger, opts.FaultSink),
		registry:  NewRegistry(opts.Logger),
		streams:   make(map[EventType]*stream),
	}
}

// Hub returns the session's event hub.
func (s *Session) Hub() *Hub {
	return s.hub
}

// Registry returns the session's handle registry.
func (s *Session) Registry() *Registry {
	return s.registry
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a link is established.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Address returns the connected peripheral address, or "".
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.link == nil {
		return ""
	}
	return s.link.Address()
}

// SessionID identifies the current connection. It changes on every successful Connect.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func newSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Connect discovers a PM5 (or dials Options.Address) and opens the link.
func (s *Session) Connect(ctx context.Context) error {
	if s.transport == nil {
		return newError(TransportUnavailable, "connect", "", device.ErrUnavailable)
	}
	if !s.connMu.TryLock() {
		return ErrConnectInProgress
	}
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	req := &device.ConnectRequest{
		Filters:        []string{DiscoveryService.UUID},
		Address:        s.opts.Address,
		ConnectTimeout: s.opts.ConnectTimeout,
	}
	for _, svc := range optionalServices {
		req.OptionalServices = append(req.OptionalServices, svc.UUID)
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.opts.Address,
		"timeout": s.opts.ConnectTimeout,
	}).Info("Connecting to PM5...")

	link, err := s.transport.Connect(ctx, req)
	if err != nil {
		s.setState(StateDisconnected)
		cerr := classifyConnectError(err)
		s.logger.WithError(err).WithField("kind", cerr.Kind).Error("Failed to connect to PM5")
		return cerr
	}

	connCtx, cancel := context.WithCancel(context.Background())
	id := newSessionID(s.opts.Clock())

	s.registry.Bind(link)
	s.mu.Lock()
	s.link = link
	s.cancel = cancel
	s.connCtx = connCtx
	s.sessionID = id
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": link.Address(),
		"session": id,
	}).Info("PM5 connected")

	groutine.Go(connCtx, "pm5-link-monitor", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			s.handleDrop(link)
		case <-ctx.Done():
		}
	})

	s.rearmStreams(ctx)
	return nil
}

func classifyConnectError(err error) *Error {
	switch {
	case errors.Is(err, device.ErrUnavailable), errors.Is(err, device.ErrBluetoothOff):
		return newError(TransportUnavailable, "connect", "", err)
	case errors.Is(err, device.ErrNoDevice), errors.Is(err, context.Canceled):
		return newError(DiscoveryFailed, "connect", "", err)
	default:
		return newError(ConnectFailed, "connect", "", err)
	}
}

// Disconnect closes the link. It is a no-op when already disconnected.
//
// Cleanup runs here as well as on the transport's drop signal; whichever
// comes first wins and the other is ignored.
func (s *Session) Disconnect() error {
	s.mu.RLock()
	link := s.link
	s.mu.RUnlock()

	if link == nil {
		return nil
	}

	err := link.Disconnect()
	s.handleDrop(link)
	if err != nil {
		s.logger.WithError(err).Warn("PM5 disconnected with errors")
	}
	return err
}

// handleDrop tears down everything tied to link. It runs at most once per link.
func (s *Session) handleDrop(link device.Link) {
	s.mu.Lock()
	if s.link == nil || s.link != link {
		s.mu.Unlock()
		return
	}
	s.link = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	address := link.Address()
	s.logger.WithField("address", address).Info("PM5 link closed")

	if cancel != nil {
		cancel()
	}
	s.resetStreams()
	s.registry.Clear()
	s.hub.Publish(DisconnectEvent{Address: address})
	s.setState(StateDisconnected)
}

// Subscribe registers listener for t.
//
// The first telemetry listener of a connection resolves the backing
// characteristic and enables notifications; failures are returned and the
// listener is not kept. While disconnected, the listener is registered and
// its stream is armed on the next Connect.
func (s *Session) Subscribe(ctx context.Context, t EventType, listener Listener) (Subscription, error) {
	switch t {
	case EventDisconnect:
		return s.hub.Subscribe(t, listener), nil
	case EventGeneralStatus, EventWorkoutEnd:
	default:
		return Subscription{}, fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}

	sub := s.hub.Subscribe(t, listener)
	if err := s.ensureStream(ctx, t); err != nil {
		s.hub.Unsubscribe(sub)
		return Subscription{}, err
	}
	return sub, nil
}

// Unsubscribe removes a listener. The notification stream stays enabled until disconnect.
func (s *Session) Unsubscribe(sub Subscription) bool {
	return s.hub.Unsubscribe(sub)
}

func characteristicFor(t EventType) CharacteristicDescriptor {
	if t == EventWorkoutEnd {
		return WorkoutEndSummary
	}
	return GeneralStatus
}

func (s *Session) rearmStreams(ctx context.Context) {
	for _, t := range []EventType{EventGeneralStatus, EventWorkoutEnd} {
		if s.hub.ListenerCount(t) == 0 {
			continue
		}
		if err := s.ensureStream(ctx, t); err != nil {
			s.hub.Fault(t, err)
		}
	}
}

func (s *Session) ensureStream(ctx context.Context, t EventType) error {
	s.mu.RLock()
	connected := s.link != nil
	connCtx := s.connCtx
	s.mu.RUnlock()
	if !connected {
		return nil
	}

	// The stream is published before arming so a drop in the middle of it
	// tears it down like any other stream; streamMu is never held across
	// transport calls.
	s.streamMu.Lock()
	if st, ok := s.streams[t]; ok && st.ctx.Err() == nil {
		s.streamMu.Unlock()
		return st.wait(ctx)
	}
	st := &stream{
		ctx:   connCtx,
		queue: ringchan.New[[]byte](s.opts.QueueSize),
		ready: make(chan struct{}),
	}
	s.streams[t] = st
	s.streamMu.Unlock()

	err := s.armStream(ctx, t, st)
	if err != nil {
		s.streamMu.Lock()
		if s.streams[t] == st {
			delete(s.streams, t)
		}
		s.streamMu.Unlock()
		st.queue.Close()
	}
	st.err = err
	close(st.ready)
	return err
}

func (s *Session) armStream(ctx context.Context, t EventType, st *stream) error {
	opCtx, cancel := withLink(ctx, st.ctx)
	defer cancel()

	desc := characteristicFor(t)
	char, err := s.registry.ResolveCharacteristic(opCtx, desc)
	if err != nil {
		return err
	}

	err = char.EnableNotifications(opCtx, func(b []byte) {
		if !st.queue.Send(b) {
			s.logger.WithField("event", t).Debug("Notification after stream closed, dropped")
		}
	})
	if err == nil && st.ctx.Err() != nil {
		err = ErrNotConnected
	}
	if err != nil {
		return newError(ResolutionFailed, "enable notifications", desc.UUID, err)
	}

	groutine.Go(st.ctx, "pm5-"+string(t)+"-pump", func(ctx context.Context) {
		s.pump(ctx, t, st)
	})

	s.logger.WithFields(logrus.Fields{
		"event": t,
		"uuid":  desc.UUID,
	}).Debug("Notifications enabled")
	return nil
}

func (s *Session) pump(ctx context.Context, t EventType, st *stream) {
	for {
		b, ok := st.queue.Receive(ctx)
		if !ok {
			return
		}
		if err := s.dispatch(t, b); err != nil {
			st.queue.MarkError()
			s.hub.Fault(t, err)
		}
	}
}

func (s *Session) dispatch(t EventType, b []byte) error {
	switch t {
	case EventGeneralStatus:
		status, err := DecodeLiveStatus(b)
		if err != nil {
			return err
		}
		s.hub.Publish(LiveStatusEvent{Status: status})
	case EventWorkoutEnd:
		summary, err := DecodeWorkoutSummary(b, s.opts.Clock())
		if err != nil {
			return err
		}
		s.hub.Publish(WorkoutSummaryEvent{Summary: summary, Raw: b})
	}
	return nil
}

func (s *Session) resetStreams() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	for t, st := range s.streams {
		stats := st.stats()
		st.queue.Close()
		delete(s.streams, t)

		s.logger.WithFields(logrus.Fields{
			"event":       t,
			"written":     stats.Written,
			"overwritten": stats.Overwritten,
			"pending":     stats.Buffered,
		}).Debug("Notification stream closed")
	}
}

// Stats returns buffer metrics for the active streams.
func (s *Session) Stats() map[EventType]StreamStats {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	out := make(map[EventType]StreamStats, len(s.streams))
	for t, st := range s.streams {
		out[t] = st.stats()
	}
	return out
}

func (s *Session) readText(ctx context.Context, d CharacteristicDescriptor) (string, error) {
	s.mu.RLock()
	linkCtx := s.connCtx
	s.mu.RUnlock()
	if linkCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = withLink(ctx, linkCtx)
		defer cancel()
	}

	char, err := s.registry.ResolveCharacteristic(ctx, d)
	if err != nil {
		return "", err
	}
	b, err := char.Read(ctx)
	if err != nil {
		return "", newError(ReadFailed, "read "+d.Name, d.UUID, err)
	}
	return DecodeText(b), nil
}

func (s *Session) SerialNumber(ctx context.Context) (string, error) {
	return s.readText(ctx, SerialNumber)
}

func (s *Session) HardwareRevision(ctx context.Context) (string, error) {
	return s.readText(ctx, HardwareRevision)
}

func (s *Session) ManufacturerName(ctx context.Context) (string, error) {
	return s.readText(ctx, ManufacturerName)
}

func (s *Session) FirmwareVersion(ctx context.Context) (string, error) {
	return s.readText(ctx, FirmwareVersion)
}

// DeviceInformation reads all four information strings concurrently.
// It fails as a whole if any read fails.
func (s *Session) DeviceInformation(ctx context.Context) (DeviceInformation, error) {
	var info DeviceInformation
	g, gctx := errgroup.WithContext(ctx)

	reads := []struct {
		desc CharacteristicDescriptor
		dst  *string
	}{
		{ManufacturerName, &info.ManufacturerName},
		{HardwareRevision, &info.HardwareRevision},
		{SerialNumber, &info.SerialNumber},
		{FirmwareVersion, &info.FirmwareVersion},
	}
	for _, r := range reads {
		g.Go(func() error {
			v, err := s.readText(gctx, r.desc)
			if err != nil {
				return err
			}
			*r.dst = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return DeviceInformation{}, err
	}
	return info, nil
}
