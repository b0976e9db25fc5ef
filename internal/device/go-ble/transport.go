package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/device"
)

// DefaultConnectTimeout bounds discovery plus dial when the request does not set one.
const DefaultConnectTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport implements device.Transport on top of go-ble.
//
// The host device is opened lazily on first Connect and reused afterwards:
// on Linux, opening the HCI socket twice fails.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble transport.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		if errors.Is(err, device.ErrUnavailable) || errors.Is(err, device.ErrBluetoothOff) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", device.ErrUnavailable, err)
	}
	t.dev = dev
	return dev, nil
}

// Close releases the host device. A later Connect reopens it.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil
	}
	err := t.dev.Stop()
	t.dev = nil
	return err
}

// Connect selects a peripheral and dials it.
func (t *Transport) Connect(ctx context.Context, req *device.ConnectRequest) (device.Link, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	timeout := req.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := strings.TrimSpace(req.Address)
	if address == "" {
		address, err = t.discover(connCtx, dev, req.Filters)
		if err != nil {
			return nil, err
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Debug("Dialing BLE device...")

	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	return newLink(client, address, t.logger), nil
}

// discover scans until the first connectable advertisement listing one of the filter services.
func (t *Transport) discover(ctx context.Context, dev ble.Device, filters []string) (string, error) {
	if len(filters) == 0 {
		return "", fmt.Errorf("%w: no address and no service filter", device.ErrNoDevice)
	}

	normalized, err := device.ValidateUUID(filters...)
	if err != nil {
		return "", fmt.Errorf("invalid service filter: %w", err)
	}
	wanted := make([]ble.UUID, 0, len(normalized))
	for _, f := range normalized {
		u, err := ble.Parse(f)
		if err != nil {
			return "", fmt.Errorf("invalid service filter %q: %w", f, err)
		}
		wanted = append(wanted, u)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan string, 1)
	handler := func(a ble.Advertisement) {
		if !a.Connectable() || !advertisesAny(a, wanted) {
			return
		}
		select {
		case found <- a.Addr().String():
			t.logger.WithFields(logrus.Fields{
				"address": a.Addr().String(),
				"name":    a.LocalName(),
				"rssi":    a.RSSI(),
			}).Info("Found matching device")
			cancel()
		case <-scanCtx.Done():
			// Another advertisement already won; return so Scan can unblock.
		}
	}

	t.logger.WithField("filters", filters).Info("Scanning for device...")
	err := dev.Scan(scanCtx, false, handler)

	select {
	case addr := <-found:
		return addr, nil
	default:
	}

	// Scan always returns an error once its context is done; tell the caller why.
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: scan timed out", device.ErrNoDevice)
		}
		return "", ctx.Err()
	}
	if err != nil {
		return "", NormalizeError(err)
	}
	return "", device.ErrNoDevice
}

func advertisesAny(a ble.Advertisement, wanted []ble.UUID) bool {
	for _, u := range wanted {
		if ble.Contains(a.Services(), u) {
			return true
		}
	}
	return false
}
