package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/pm5link/internal/device"
	"github.com/stretchr/testify/mock"
)

// TestDeviceAddress is the address reported by fake peripherals unless overridden.
const TestDeviceAddress = "00:00:00:00:00:01"

// CharacteristicConfig represents a characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read", "notify", "read,notify"
	Value      string `json:"value,omitempty"`      // returned by Read
}

// ServiceConfig represents a service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PM5ProfileJSON is a PM5 with the information and rowing services populated.
const PM5ProfileJSON = `{
  "services": [
    {
      "uuid": "ce060010-43e5-11e4-916c-0800200c9a66",
      "characteristics": [
        {"uuid": "ce060012-43e5-11e4-916c-0800200c9a66", "properties": "read", "value": "430123456"},
        {"uuid": "ce060013-43e5-11e4-916c-0800200c9a66", "properties": "read", "value": "0502"},
        {"uuid": "ce060014-43e5-11e4-916c-0800200c9a66", "properties": "read", "value": "Concept2"},
        {"uuid": "ce060015-43e5-11e4-916c-0800200c9a66", "properties": "read", "value": "171.000"}
      ]
    },
    {
      "uuid": "ce060030-43e5-11e4-916c-0800200c9a66",
      "characteristics": [
        {"uuid": "ce060031-43e5-11e4-916c-0800200c9a66", "properties": "notify"},
        {"uuid": "ce060039-43e5-11e4-916c-0800200c9a66", "properties": "notify"}
      ]
    }
  ]
}`

// PeripheralBuilder builds a FakePeripheral with full service/characteristic support
type PeripheralBuilder struct {
	profile    DeviceProfileConfig
	address    string
	connectErr error
	readErrs   map[string]error
	notifyErrs map[string]error
	gate       chan struct{}
}

// NewPeripheralBuilder creates an empty peripheral builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		address:    TestDeviceAddress,
		readErrs:   make(map[string]error),
		notifyErrs: make(map[string]error),
	}
}

// NewPM5Builder creates a builder preloaded with PM5ProfileJSON
func NewPM5Builder() *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(PM5ProfileJSON)
}

// WithAddress sets the address reported by the link
func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.address = address
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties, value string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties, Value: value})
	return b
}

// WithoutCharacteristic removes a characteristic from whatever service holds it
func (b *PeripheralBuilder) WithoutCharacteristic(uuid string) *PeripheralBuilder {
	want := device.NormalizeUUID(uuid)
	for i := range b.profile.Services {
		chars := b.profile.Services[i].Characteristics[:0]
		for _, c := range b.profile.Services[i].Characteristics {
			if device.NormalizeUUID(c.UUID) != want {
				chars = append(chars, c)
			}
		}
		b.profile.Services[i].Characteristics = chars
	}
	return b
}

// WithConnectError makes every Connect fail with err
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithReadError makes reads of uuid fail with err
func (b *PeripheralBuilder) WithReadError(uuid string, err error) *PeripheralBuilder {
	b.readErrs[device.NormalizeUUID(uuid)] = err
	return b
}

// WithNotifyError makes enabling notifications on uuid fail with err
func (b *PeripheralBuilder) WithNotifyError(uuid string, err error) *PeripheralBuilder {
	b.notifyErrs[device.NormalizeUUID(uuid)] = err
	return b
}

// WithResolveGate blocks every service lookup until gate is closed
func (b *PeripheralBuilder) WithResolveGate(gate chan struct{}) *PeripheralBuilder {
	b.gate = gate
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := jsonStrFmt
	if len(args) > 0 {
		jsonStr = fmt.Sprintf(jsonStrFmt, args...)
	}

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// Build creates the fake peripheral
func (b *PeripheralBuilder) Build() *FakePeripheral {
	return &FakePeripheral{
		builder: b,
		calls:   make(map[string]int),
	}
}

// FakePeripheral implements device.Transport. Every Connect yields a fresh
// MockLink with fresh service and characteristic mocks, so handles from
// different connections are never equal.
type FakePeripheral struct {
	builder *PeripheralBuilder

	mu       sync.Mutex
	connects int
	requests []*device.ConnectRequest
	calls    map[string]int // "service/<uuid>" or "characteristic/<uuid>"
	link     *MockLink
	chars    map[string]*MockCharacteristic
}

func (f *FakePeripheral) Connect(ctx context.Context, req *device.ConnectRequest) (device.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	f.requests = append(f.requests, req)
	if f.builder.connectErr != nil {
		return nil, f.builder.connectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.link, f.chars = f.buildLink()
	return f.link, nil
}

func (f *FakePeripheral) count(kind, uuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind+"/"+device.NormalizeUUID(uuid)]++
}

func uuidMatcher(uuid string) interface{} {
	want := device.NormalizeUUID(uuid)
	return mock.MatchedBy(func(u string) bool { return device.NormalizeUUID(u) == want })
}

func (f *FakePeripheral) buildLink() (*MockLink, map[string]*MockCharacteristic) {
	b := f.builder
	link := NewMockLink()
	link.On("Address").Return(b.address)
	link.On("Disconnect").Return(nil)

	chars := make(map[string]*MockCharacteristic)
	for _, svcCfg := range b.profile.Services {
		svc := &MockService{ID: device.NormalizeUUID(svcCfg.UUID)}

		for _, charCfg := range svcCfg.Characteristics {
			norm := device.NormalizeUUID(charCfg.UUID)
			char := &MockCharacteristic{ID: norm}

			switch {
			case b.readErrs[norm] != nil:
				char.On("Read", mock.Anything).Return(nil, b.readErrs[norm])
			case strings.Contains(charCfg.Properties, "read"):
				char.On("Read", mock.Anything).Return([]byte(charCfg.Value), nil)
			default:
				char.On("Read", mock.Anything).Return(nil, fmt.Errorf("characteristic does not support read"))
			}

			switch {
			case b.notifyErrs[norm] != nil:
				char.On("EnableNotifications", mock.Anything, mock.Anything).Return(b.notifyErrs[norm])
			case strings.Contains(charCfg.Properties, "notify"):
				char.On("EnableNotifications", mock.Anything, mock.Anything).Return(nil)
			default:
				char.On("EnableNotifications", mock.Anything, mock.Anything).Return(fmt.Errorf("characteristic does not support notify"))
			}

			uuid := charCfg.UUID
			svc.On("Characteristic", mock.Anything, uuidMatcher(uuid)).
				Run(func(mock.Arguments) { f.count("characteristic", uuid) }).
				Return(char, nil)
			chars[norm] = char
		}
		svcUUID := svcCfg.UUID
		svc.On("Characteristic", mock.Anything, mock.Anything).Return(nil,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{svcUUID}})

		link.On("Service", mock.Anything, uuidMatcher(svcUUID)).
			Run(func(mock.Arguments) {
				f.count("service", svcUUID)
				if b.gate != nil {
					<-b.gate
				}
			}).
			Return(svc, nil)
	}
	link.On("Service", mock.Anything, mock.Anything).Return(nil, &device.NotFoundError{Resource: "service"})

	return link, chars
}

// Connects returns how many times Connect was called
func (f *FakePeripheral) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// LastRequest returns the most recent connect request, or nil
func (f *FakePeripheral) LastRequest() *device.ConnectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// ServiceCalls returns how many transport service lookups were made for uuid
func (f *FakePeripheral) ServiceCalls(uuid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["service/"+device.NormalizeUUID(uuid)]
}

// CharacteristicCalls returns how many transport characteristic lookups were made for uuid
func (f *FakePeripheral) CharacteristicCalls(uuid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["characteristic/"+device.NormalizeUUID(uuid)]
}

// Link returns the link of the latest connection
func (f *FakePeripheral) Link() *MockLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

// Characteristic returns the characteristic mock of the latest connection
func (f *FakePeripheral) Characteristic(uuid string) *MockCharacteristic {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chars[device.NormalizeUUID(uuid)]
}

// Notify pushes a notification through the latest connection.
// Reports false if notifications were never enabled on uuid.
func (f *FakePeripheral) Notify(uuid string, data []byte) bool {
	char := f.Characteristic(uuid)
	if char == nil {
		return false
	}
	return char.Notify(data)
}

// NotificationsEnabled reports whether notifications are on for uuid in the latest connection
func (f *FakePeripheral) NotificationsEnabled(uuid string) bool {
	char := f.Characteristic(uuid)
	return char != nil && char.NotificationsEnabled()
}

// Drop simulates the peripheral going out of range
func (f *FakePeripheral) Drop() {
	if link := f.Link(); link != nil {
		link.Drop()
	}
}
