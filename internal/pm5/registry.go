package pm5

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/device"
	"golang.org/x/sync/singleflight"
)

type handleKind uint8

const (
	serviceHandle handleKind = iota + 1
	characteristicHandle
)

func (k handleKind) String() string {
	if k == serviceHandle {
		return "service"
	}
	return "characteristic"
}

type handleKey struct {
	kind handleKind
	uuid string // normalized
}

// Registry lazily resolves and memoizes GATT handles for one connection at a time.
//
// Every Bind/Clear starts a new epoch. A resolution that started in an older
// epoch never lands in the table. Transport lookups run under a context owned
// by the epoch, so a caller giving up does not fail the others waiting on the
// same lookup.
type Registry struct {
	logger *logrus.Logger

	mu         sync.Mutex
	link       device.Link
	linkCtx    context.Context
	cancelLink context.CancelFunc
	epoch      uint64
	handles    map[handleKey]any

	group singleflight.Group
}

// NewRegistry creates an unbound registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		logger:  logger,
		handles: make(map[handleKey]any),
	}
}

// Bind attaches a freshly established link and starts a new epoch.
func (r *Registry) Bind(link device.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelLink != nil {
		r.cancelLink()
	}
	r.link = link
	r.linkCtx, r.cancelLink = context.WithCancel(context.Background())
	r.epoch++
	clear(r.handles)
}

// Clear drops every memoized handle and detaches the link.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.handles)
	if r.cancelLink != nil {
		r.cancelLink()
		r.cancelLink = nil
	}
	r.link = nil
	r.linkCtx = nil
	r.epoch++
	clear(r.handles)

	r.logger.WithFields(logrus.Fields{
		"handles": n,
		"epoch":   r.epoch,
	}).Debug("Registry cleared")
}

// Len returns the number of memoized handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ResolveService returns the memoized service handle, resolving it on first use.
func (r *Registry) ResolveService(ctx context.Context, d ServiceDescriptor) (device.Service, error) {
	v, err := r.resolve(ctx, handleKey{kind: serviceHandle, uuid: device.NormalizeUUID(d.UUID)}, d.UUID,
		func(ctx context.Context, link device.Link) (any, error) {
			return link.Service(ctx, d.UUID)
		})
	if err != nil {
		return nil, err
	}
	return v.(device.Service), nil
}

// ResolveCharacteristic returns the memoized characteristic handle,
// resolving its owning service first when needed.
func (r *Registry) ResolveCharacteristic(ctx context.Context, d CharacteristicDescriptor) (device.Characteristic, error) {
	v, err := r.resolve(ctx, handleKey{kind: characteristicHandle, uuid: device.NormalizeUUID(d.UUID)}, d.UUID,
		func(ctx context.Context, _ device.Link) (any, error) {
			svc, err := r.ResolveService(ctx, d.Service)
			if err != nil {
				return nil, err
			}
			return svc.Characteristic(ctx, d.UUID)
		})
	if err != nil {
		return nil, err
	}
	return v.(device.Characteristic), nil
}

type binding struct {
	link  device.Link
	ctx   context.Context
	epoch uint64
}

func (r *Registry) lookup(key handleKey) (any, binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.handles[key]
	return v, binding{link: r.link, ctx: r.linkCtx, epoch: r.epoch}, ok
}

func (r *Registry) resolve(ctx context.Context, key handleKey, rawUUID string,
	fetch func(context.Context, device.Link) (any, error)) (any, error) {

	v, b, ok := r.lookup(key)
	if ok {
		return v, nil
	}
	op := "resolve " + key.kind.String()
	if b.link == nil {
		return nil, newError(ResolutionFailed, op, rawUUID, ErrNotConnected)
	}

	flightKey := fmt.Sprintf("%d/%s/%s", b.epoch, key.kind, key.uuid)
	ch := r.group.DoChan(flightKey, func() (any, error) {
		// A flight that finished just before this one started has already stored the handle.
		if v, cur, ok := r.lookup(key); ok && cur.epoch == b.epoch {
			return v, nil
		}

		r.logger.WithFields(logrus.Fields{
			"kind": key.kind.String(),
			"uuid": rawUUID,
		}).Debug("Resolving handle")

		v, err := fetch(b.ctx, b.link)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.epoch != b.epoch {
			return nil, ErrStaleHandle
		}
		if err != nil {
			return nil, err
		}
		r.handles[key] = v
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if Kind(res.Err) == ResolutionFailed {
				return nil, res.Err
			}
			return nil, newError(ResolutionFailed, op, rawUUID, res.Err)
		}
		if res.Shared {
			r.logger.WithField("uuid", rawUUID).Debug("Joined in-flight resolution")
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, newError(ResolutionFailed, op, rawUUID, context.Cause(ctx))
	}
}
