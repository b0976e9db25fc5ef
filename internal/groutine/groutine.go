package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// PanicHandler receives panics recovered from goroutines started with Go.
// The default logs the panic with its stack through the standard logrus logger.
var PanicHandler = func(name string, recovered any, stack []byte) {
	logrus.WithFields(logrus.Fields{
		"goroutine": name,
		"panic":     fmt.Sprint(recovered),
	}).Errorf("Goroutine panicked\n%s", stack)
}

// Go starts fn in a goroutine labelled name for pprof and recovers its panics.
//
//	groutine.Go(ctx, "pm5-link-monitor", func(ctx context.Context) {
//	    <-ctx.Done()
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				PanicHandler(name, r, debug.Stack())
			}
		}()
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// Name returns the name given to Go, or "" outside such a goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(goroutineNameKey).(string)
	return s
}
