package testutils

import (
	"context"
	"sync"

	"github.com/srg/pm5link/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context, req *device.ConnectRequest) (device.Link, error) {
	args := m.Called(ctx, req)
	link, _ := args.Get(0).(device.Link)
	return link, args.Error(1)
}

// MockLink is a testify mock of device.Link.
//
// Disconnected is not mocked: it returns a channel closed by Drop, or by
// Disconnect when the expectation succeeds.
type MockLink struct {
	mock.Mock

	once sync.Once
	done chan struct{}
}

// NewMockLink creates a link whose drop channel is open.
func NewMockLink() *MockLink {
	return &MockLink{done: make(chan struct{})}
}

func (m *MockLink) Address() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockLink) Service(ctx context.Context, uuid string) (device.Service, error) {
	args := m.Called(ctx, uuid)
	svc, _ := args.Get(0).(device.Service)
	return svc, args.Error(1)
}

func (m *MockLink) Disconnected() <-chan struct{} {
	return m.done
}

func (m *MockLink) Disconnect() error {
	args := m.Called()
	err := args.Error(0)
	if err == nil {
		m.Drop()
	}
	return err
}

// Drop simulates the peer going away.
func (m *MockLink) Drop() {
	m.once.Do(func() { close(m.done) })
}

// MockService is a testify mock of device.Service.
type MockService struct {
	mock.Mock
	ID string
}

func (m *MockService) UUID() string {
	return m.ID
}

func (m *MockService) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	args := m.Called(ctx, uuid)
	char, _ := args.Get(0).(device.Characteristic)
	return char, args.Error(1)
}

// MockCharacteristic is a testify mock of device.Characteristic.
// A successful EnableNotifications call stores the handler for Notify.
type MockCharacteristic struct {
	mock.Mock
	ID string

	mu      sync.Mutex
	handler func([]byte)
}

func (m *MockCharacteristic) UUID() string {
	return m.ID
}

func (m *MockCharacteristic) Read(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockCharacteristic) EnableNotifications(ctx context.Context, handler func([]byte)) error {
	args := m.Called(ctx, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

// Notify delivers data to the installed handler. Reports false if notifications are not enabled.
func (m *MockCharacteristic) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// NotificationsEnabled reports whether a handler has been installed.
func (m *MockCharacteristic) NotificationsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}
