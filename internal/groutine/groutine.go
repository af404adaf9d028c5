package groutine

import (
	"context"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a named goroutine. The name is attached as a pprof label and is
// available to fn through GetName. A panic in fn is logged with its stack
// and does not take the process down.
//
//	groutine.Go(ctx, logger, "bluez-signals", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used. If logger is nil,
// logrus.StandardLogger() is used.
func Go(parentCtx context.Context, logger *logrus.Logger, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": GetName(ctx),
					"panic":     r,
				}).Errorf("goroutine panicked\n%s", debug.Stack())
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
