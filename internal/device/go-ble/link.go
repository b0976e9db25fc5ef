package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/device"
	"github.com/srg/pm5link/internal/groutine"
)

// link wraps a connected ble.Client.
type link struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(client ble.Client, address string, logger *logrus.Logger) *link {
	l := &link{
		client:  client,
		address: address,
		logger:  logger,
		done:    make(chan struct{}),
	}

	// Forward the client's own disconnect signal so remote drops and local
	// Disconnect look the same to the caller.
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				l.logger.WithField("address", l.address).Warn("BLE connection lost")
				l.markClosed()
			case <-l.done:
			}
		})
	}

	return l
}

func (l *link) markClosed() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *link) Address() string {
	return l.address
}

func (l *link) Disconnected() <-chan struct{} {
	return l.done
}

func (l *link) Disconnect() error {
	select {
	case <-l.done:
		return nil
	default:
	}

	l.logger.WithField("address", l.address).Info("Disconnecting BLE device...")
	_ = l.client.ClearSubscriptions()
	err := l.client.CancelConnection()
	l.markClosed()
	if err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	return nil
}

func (l *link) Service(ctx context.Context, uuid string) (device.Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	services, err := callWithContext(ctx, func() ([]*ble.Service, error) {
		return l.client.DiscoverServices([]ble.UUID{u})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover service %s: %w", uuid, NormalizeError(err))
	}

	for _, s := range services {
		if s.UUID.Equal(u) {
			l.logger.WithField("service_uuid", uuid).Debug("Service discovered")
			return &service{link: l, svc: s}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

type service struct {
	link *link
	svc  *ble.Service
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

func (s *service) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	client := s.link.client
	chars, err := callWithContext(ctx, func() ([]*ble.Characteristic, error) {
		return client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristic %s: %w", uuid, NormalizeError(err))
	}

	var found *ble.Characteristic
	for _, c := range chars {
		if c.UUID.Equal(u) {
			found = c
			break
		}
	}
	if found == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
	}

	// Subscribe needs the CCCD handle.
	if found.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
		if _, err := callWithContext(ctx, func() ([]*ble.Descriptor, error) {
			return client.DiscoverDescriptors(nil, found)
		}); err != nil {
			return nil, fmt.Errorf("failed to discover descriptors of %s: %w", uuid, NormalizeError(err))
		}
	}

	s.link.logger.WithFields(logrus.Fields{
		"service_uuid": s.UUID(),
		"char_uuid":    uuid,
	}).Debug("Characteristic discovered")

	return &characteristic{link: s.link, char: found}, nil
}

type characteristic struct {
	link *link
	char *ble.Characteristic
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

func (c *characteristic) Read(ctx context.Context) ([]byte, error) {
	data, err := callWithContext(ctx, func() ([]byte, error) {
		return c.link.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID(), NormalizeError(err))
	}
	return data, nil
}

func (c *characteristic) EnableNotifications(ctx context.Context, handler func([]byte)) error {
	indicate := c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0

	_, err := callWithContext(ctx, func() (struct{}, error) {
		return struct{}{}, c.link.client.Subscribe(c.char, indicate, func(data []byte) {
			// go-ble reuses its buffer between notifications.
			buf := make([]byte, len(data))
			copy(buf, data)
			handler(buf)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}

// callWithContext runs a blocking go-ble call, giving up when ctx is done.
// go-ble calls cannot be interrupted, so the call itself keeps running to completion.
// Only an expired deadline is reported as ErrTimeout; a cancellation keeps
// context.Canceled and its cause.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resultCh <- result{v: v, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", device.ErrTimeout, err)
		}
		if cause := context.Cause(ctx); cause != nil && cause != err {
			return zero, fmt.Errorf("%w: %w", err, cause)
		}
		return zero, err
	}
}
