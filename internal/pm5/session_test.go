package pm5

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/pm5link/internal/device"
	"github.com/srg/pm5link/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testClock = time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)

// eventRecorder collects events delivered to a listener.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type SessionTestSuite struct {
	testutils.PeripheralSuite
	faults  *faultRecorder
	session *Session
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.PeripheralSuite.SetupTest()
	s.faults = &faultRecorder{}
	s.session = NewSession(s.Peripheral, Options{
		ConnectTimeout: time.Second,
		Clock:          testutils.FixedClock(testClock),
		FaultSink:      s.faults.sink,
		Logger:         s.Logger,
	})
}

func (s *SessionTestSuite) TearDownTest() {
	_ = s.session.Disconnect()
	s.PeripheralSuite.TearDownTest()
}

func (s *SessionTestSuite) connect() {
	s.Require().NoError(s.session.Connect(context.Background()), "connect MUST succeed")
}

func (s *SessionTestSuite) rebuild() {
	s.PeripheralSuite.SetupTest()
	s.session = NewSession(s.Peripheral, Options{
		Clock:     testutils.FixedClock(testClock),
		FaultSink: s.faults.sink,
		Logger:    s.Logger,
	})
}

func (s *SessionTestSuite) TestConnectRequestsDiscoveryFilter() {
	s.connect()

	req := s.Peripheral.LastRequest()
	s.Require().NotNil(req)
	s.Equal([]string{DiscoveryService.UUID}, req.Filters)
	s.ElementsMatch([]string{InformationService.UUID, ControlService.UUID, RowingService.UUID}, req.OptionalServices)
	s.Equal(time.Second, req.ConnectTimeout)

	s.Equal(StateConnected, s.session.State())
	s.True(s.session.IsConnected())
	s.Equal(testutils.TestDeviceAddress, s.session.Address())
	s.Len(s.session.SessionID(), 26, "session id MUST be a ULID")
}

func (s *SessionTestSuite) TestConnectTwice() {
	s.connect()
	s.ErrorIs(s.session.Connect(context.Background()), ErrAlreadyConnected)
	s.Equal(1, s.Peripheral.Connects())
}

func (s *SessionTestSuite) TestConnectFailureClassification() {
	tests := []struct {
		name string
		err  error
		want *Error
	}{
		{name: "no adapter", err: device.ErrUnavailable, want: ErrTransportUnavailable},
		{name: "bluetooth off", err: device.ErrBluetoothOff, want: ErrTransportUnavailable},
		{name: "nothing found", err: device.ErrNoDevice, want: ErrDiscoveryFailed},
		{name: "cancelled", err: context.Canceled, want: ErrDiscoveryFailed},
		{name: "dial failed", err: errors.New("connection refused"), want: ErrConnectFailed},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.TearDownTest()
			s.WithPeripheral().WithConnectError(tt.err)
			s.rebuild()

			err := s.session.Connect(context.Background())

			s.ErrorIs(err, tt.want)
			s.ErrorIs(err, tt.err, "cause MUST be preserved")
			s.Equal(StateDisconnected, s.session.State(), "failed connect MUST leave the session disconnected")
		})
	}
}

func (s *SessionTestSuite) TestNilTransport() {
	session := NewSession(nil, Options{Logger: s.Logger})
	err := session.Connect(context.Background())
	s.ErrorIs(err, ErrTransportUnavailable)
	s.Equal(StateDisconnected, session.State())
}

func (s *SessionTestSuite) TestLiveStatusFlow() {
	s.connect()

	rec := &eventRecorder{}
	_, err := s.session.Subscribe(context.Background(), EventGeneralStatus, rec.listen)
	s.Require().NoError(err)

	s.Require().True(s.Peripheral.Notify(GeneralStatus.UUID, []byte{100, 0, 0, 50, 0, 0}), "notifications MUST be enabled")
	s.Require().True(s.Peripheral.Notify(GeneralStatus.UUID, []byte{0, 0, 0, 10, 0, 0}))

	s.Require().Eventually(func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	events := rec.snapshot()
	s.Equal(LiveStatusEvent{Status: LiveStatus{ElapsedTime: 1.0, Distance: 5.0}}, events[0], "FIFO order MUST hold")
	s.Equal(LiveStatusEvent{Status: LiveStatus{ElapsedTime: 0, Distance: 1.0}}, events[1])

	stats := s.session.Stats()[EventGeneralStatus]
	s.Equal(int64(2), stats.Written)
	s.Equal(DefaultQueueSize, stats.Capacity)
}

func (s *SessionTestSuite) TestSecondSubscriberReusesStream() {
	s.connect()
	ctx := context.Background()

	first, second := &eventRecorder{}, &eventRecorder{}
	_, err := s.session.Subscribe(ctx, EventGeneralStatus, first.listen)
	s.Require().NoError(err)
	_, err = s.session.Subscribe(ctx, EventGeneralStatus, second.listen)
	s.Require().NoError(err)

	s.Peripheral.Characteristic(GeneralStatus.UUID).AssertNumberOfCalls(s.T(), "EnableNotifications", 1)
	s.Equal(1, s.Peripheral.CharacteristicCalls(GeneralStatus.UUID))

	s.Peripheral.Notify(GeneralStatus.UUID, []byte{1, 0, 0, 1, 0, 0})
	s.Eventually(func() bool { return first.count() == 1 && second.count() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *SessionTestSuite) TestBadPacketDoesNotKillStream() {
	// GOAL: a decode failure is reported to the fault sink and the stream keeps going
	//
	// TEST SCENARIO: short workout-end packet then a good one -> one fault, one event

	s.connect()

	rec := &eventRecorder{}
	_, err := s.session.Subscribe(context.Background(), EventWorkoutEnd, rec.listen)
	s.Require().NoError(err)

	good := make([]byte, WorkoutSummaryLen)
	good[7] = 0xd0 // 2000 -> 200.0 m
	good[8] = 0x07
	good[17] = byte(WorkoutFixedDistanceNoSplits)

	s.Peripheral.Notify(WorkoutEndSummary.UUID, []byte{1, 2, 3})
	s.Peripheral.Notify(WorkoutEndSummary.UUID, good)

	s.Require().Eventually(func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond,
		"well-formed packet after a bad one MUST still dispatch")

	types, faults := s.faults.snapshot()
	s.Require().Len(faults, 1)
	s.Equal(EventWorkoutEnd, types[0])
	s.ErrorIs(faults[0], ErrMalformedPacket)

	ev, ok := rec.snapshot()[0].(WorkoutSummaryEvent)
	s.Require().True(ok)
	s.InDelta(200.0, ev.Summary.Distance, 1e-9)
	s.Equal(testClock, ev.Summary.CaptureTimestamp, "capture time MUST come from the session clock")
	s.Equal(good, ev.Raw)
	s.Equal(int64(1), s.session.Stats()[EventWorkoutEnd].Errors)
}

func (s *SessionTestSuite) TestUnknownEventType() {
	s.connect()
	_, err := s.session.Subscribe(context.Background(), EventType("heart-rate"), func(Event) error { return nil })
	s.ErrorIs(err, ErrUnknownEvent)
	s.Equal(0, s.session.Hub().ListenerCount(EventType("heart-rate")), "rejected listener MUST NOT be registered")
}

func (s *SessionTestSuite) TestSubscribeResolutionFailure() {
	s.TearDownTest()
	s.WithPeripheral().WithoutCharacteristic(WorkoutEndSummary.UUID)
	s.rebuild()
	s.connect()

	_, err := s.session.Subscribe(context.Background(), EventWorkoutEnd, func(Event) error { return nil })

	s.ErrorIs(err, ErrResolutionFailed)
	s.Equal(0, s.session.Hub().ListenerCount(EventWorkoutEnd), "failed subscribe MUST roll back the listener")
}

func (s *SessionTestSuite) TestSubscribeEnableNotificationsFailure() {
	s.TearDownTest()
	s.WithPeripheral().WithNotifyError(GeneralStatus.UUID, errors.New("cccd write rejected"))
	s.rebuild()
	s.connect()

	_, err := s.session.Subscribe(context.Background(), EventGeneralStatus, func(Event) error { return nil })

	s.ErrorIs(err, ErrResolutionFailed)
	s.Contains(err.Error(), "cccd write rejected")
	s.Empty(s.session.Stats(), "failed stream MUST NOT linger")
}

func (s *SessionTestSuite) TestRemoteDropClearsRegistryAndPublishes() {
	s.connect()

	var seen []string
	_, err := s.session.Subscribe(context.Background(), EventDisconnect, func(e Event) error {
		seen = append(seen, e.(DisconnectEvent).Address)
		s.Equal(0, s.session.Registry().Len(), "registry MUST be cleared before the disconnect event")
		return nil
	})
	s.Require().NoError(err)
	_, err = s.session.Subscribe(context.Background(), EventGeneralStatus, func(Event) error { return nil })
	s.Require().NoError(err)
	s.Positive(s.session.Registry().Len())

	s.Peripheral.Drop()

	s.Require().Eventually(func() bool { return s.session.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	s.Equal([]string{testutils.TestDeviceAddress}, seen)
	s.Equal(0, s.session.Registry().Len())
	s.Empty(s.session.Stats())
	s.Empty(s.session.Address())
}

func (s *SessionTestSuite) TestLocalDisconnectRunsCleanupOnce() {
	s.connect()

	rec := &eventRecorder{}
	_, err := s.session.Subscribe(context.Background(), EventDisconnect, rec.listen)
	s.Require().NoError(err)

	s.Require().NoError(s.session.Disconnect())
	s.Require().NoError(s.session.Disconnect(), "second disconnect MUST be a no-op")

	s.Equal(StateDisconnected, s.session.State())
	s.Equal(0, s.session.Registry().Len())
	// The link's own drop signal also fires; give the monitor a chance to (not) republish.
	time.Sleep(20 * time.Millisecond)
	s.Equal(1, rec.count(), "disconnect MUST be published exactly once")
	s.Peripheral.Link().AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *SessionTestSuite) TestReconnectResolvesFresh() {
	// GOAL: handles from a previous connection are never reused
	//
	// TEST SCENARIO: connect, subscribe, disconnect, connect -> stream re-armed with a fresh lookup

	s.connect()
	rec := &eventRecorder{}
	_, err := s.session.Subscribe(context.Background(), EventGeneralStatus, rec.listen)
	s.Require().NoError(err)
	firstID := s.session.SessionID()
	oldChar := s.Peripheral.Characteristic(GeneralStatus.UUID)

	s.Require().NoError(s.session.Disconnect())
	s.connect()

	s.Equal(2, s.Peripheral.CharacteristicCalls(GeneralStatus.UUID), "reconnect MUST resolve again")
	s.NotEqual(firstID, s.session.SessionID())
	s.NotSame(oldChar, s.Peripheral.Characteristic(GeneralStatus.UUID))

	s.Peripheral.Notify(GeneralStatus.UUID, []byte{100, 0, 0, 0, 0, 0})
	s.Require().Eventually(func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond,
		"existing listener MUST receive telemetry from the new connection")

	// A late notification on the old handle goes nowhere.
	oldChar.Notify([]byte{1, 0, 0, 0, 0, 0})
	time.Sleep(20 * time.Millisecond)
	s.Equal(1, rec.count())
}

func (s *SessionTestSuite) TestSubscribeWhileDisconnectedArmsOnConnect() {
	rec := &eventRecorder{}
	_, err := s.session.Subscribe(context.Background(), EventWorkoutEnd, rec.listen)
	s.Require().NoError(err)
	s.Equal(0, s.Peripheral.Connects())

	s.connect()

	s.Equal(1, s.Peripheral.CharacteristicCalls(WorkoutEndSummary.UUID))
	s.True(s.Peripheral.Notify(WorkoutEndSummary.UUID, make([]byte, WorkoutSummaryLen)))
	s.Eventually(func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *SessionTestSuite) TestDeviceInformation() {
	s.connect()

	info, err := s.session.DeviceInformation(context.Background())
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).AssertValue(info, `{
		"manufacturerName": "Concept2",
		"hardwareRevision": "0502",
		"serialNumber": "430123456",
		"firmwareVersion": "171.000"
	}`)

	serial, err := s.session.SerialNumber(context.Background())
	s.Require().NoError(err)
	s.Equal("430123456", serial)
	s.Equal(1, s.Peripheral.CharacteristicCalls(SerialNumber.UUID), "reads MUST reuse the resolved handle")
	s.Equal(1, s.Peripheral.ServiceCalls(InformationService.UUID))
}

func (s *SessionTestSuite) TestDeviceInformationFailsAsWhole() {
	s.TearDownTest()
	s.WithPeripheral().WithReadError(FirmwareVersion.UUID, errors.New("read not permitted"))
	s.rebuild()
	s.connect()

	info, err := s.session.DeviceInformation(context.Background())

	s.ErrorIs(err, ErrReadFailed)
	s.Equal(DeviceInformation{}, info, "partial information MUST NOT be returned")

	name, err := s.session.ManufacturerName(context.Background())
	s.NoError(err)
	s.Equal("Concept2", name)
}

func (s *SessionTestSuite) TestReadWhileDisconnected() {
	_, err := s.session.HardwareRevision(context.Background())
	s.ErrorIs(err, ErrResolutionFailed)
	s.ErrorIs(err, ErrNotConnected)
}

func TestSession_ConcurrentConnectIsRejected(t *testing.T) {
	// GOAL: only one connect attempt may be in flight per session
	//
	// TEST SCENARIO: block the transport, start a second connect -> ErrConnectInProgress

	release := make(chan struct{})
	link := testutils.NewMockLink()
	link.On("Address").Return(testutils.TestDeviceAddress)
	link.On("Disconnect").Return(nil)

	transport := &testutils.MockTransport{}
	transport.On("Connect", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(link, nil).Once()

	session := NewSession(transport, Options{Logger: testutils.NewTestLogger(false)})

	first := make(chan error, 1)
	go func() { first <- session.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return session.State() == StateConnecting }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, session.Connect(context.Background()), ErrConnectInProgress)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, StateConnected, session.State())
	transport.AssertNumberOfCalls(t, "Connect", 1)

	require.NoError(t, session.Disconnect())
	link.AssertExpectations(t)
}

func TestSession_DropDuringSubscribe(t *testing.T) {
	// GOAL: a link drop must tear the session down even while a subscribe is waiting on the transport
	//
	// TEST SCENARIO: gate service lookup, subscribe, drop -> disconnect published, subscribe fails, nothing lingers

	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)

	peripheral := testutils.NewPM5Builder().WithResolveGate(gate).Build()
	session := NewSession(peripheral, Options{Logger: testutils.NewTestLogger(false)})
	require.NoError(t, session.Connect(context.Background()))

	disconnects := &eventRecorder{}
	_, err := session.Subscribe(context.Background(), EventDisconnect, disconnects.listen)
	require.NoError(t, err)

	subscribed := make(chan error, 1)
	go func() {
		_, err := session.Subscribe(context.Background(), EventGeneralStatus, func(Event) error { return nil })
		subscribed <- err
	}()
	require.Eventually(t, func() bool {
		return peripheral.ServiceCalls(RowingService.UUID) == 1
	}, time.Second, 5*time.Millisecond, "subscribe MUST reach the transport")

	peripheral.Drop()

	require.Eventually(t, func() bool { return disconnects.count() == 1 }, time.Second, 5*time.Millisecond,
		"disconnect MUST be published while the lookup is still blocked")
	assert.Equal(t, StateDisconnected, session.State())
	assert.Equal(t, 0, session.Registry().Len())

	select {
	case err := <-subscribed:
		require.Error(t, err, "a subscribe outliving its link MUST fail")
		assert.ErrorIs(t, err, ErrResolutionFailed)
		assert.True(t, errors.Is(err, ErrNotConnected) || errors.Is(err, ErrStaleHandle),
			"failure MUST name the lost link, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("subscribe MUST return once the link is gone")
	}
	assert.Equal(t, 0, session.Hub().ListenerCount(EventGeneralStatus), "failed subscribe MUST roll back the listener")
	assert.Empty(t, session.Stats(), "half-armed stream MUST NOT linger")

	release()
	assert.Never(t, func() bool { return session.Registry().Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"the late lookup MUST NOT land in the registry")
}

func TestSession_SubscribersShareArmingStream(t *testing.T) {
	// GOAL: a subscriber arriving while the stream is being armed waits for that attempt instead of starting another
	//
	// TEST SCENARIO: gate service lookup, two subscribes, release -> both succeed, one lookup, notifications flow

	gate := make(chan struct{})
	peripheral := testutils.NewPM5Builder().WithResolveGate(gate).Build()
	session := NewSession(peripheral, Options{Logger: testutils.NewTestLogger(false)})
	require.NoError(t, session.Connect(context.Background()))
	t.Cleanup(func() { _ = session.Disconnect() })

	first, second := &eventRecorder{}, &eventRecorder{}
	errs := make(chan error, 2)
	for _, rec := range []*eventRecorder{first, second} {
		go func() {
			_, err := session.Subscribe(context.Background(), EventGeneralStatus, rec.listen)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return session.Hub().ListenerCount(EventGeneralStatus) == 2
	}, time.Second, 5*time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 1, peripheral.CharacteristicCalls(GeneralStatus.UUID), "stream MUST be armed once")

	require.True(t, peripheral.Notify(GeneralStatus.UUID, []byte{100, 0, 0, 50, 0, 0}))
	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, time.Second, 5*time.Millisecond, "both subscribers MUST receive the update")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "state(9)", State(9).String())
}
