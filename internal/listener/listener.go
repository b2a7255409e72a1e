// Package listener runs the subscriber loops that drive the engines. Each
// engine gets its own subscription to the log-update channel and consumes
// signals one at a time, so no two handlers for the same purpose ever run
// concurrently for the same job.
package listener

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Handler processes one signal payload.
type Handler interface {
	HandleSignal(ctx context.Context, payload string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload string) error

// HandleSignal implements Handler.
func (f HandlerFunc) HandleSignal(ctx context.Context, payload string) error {
	return f(ctx, payload)
}

// Listener relays every payload on a bus channel to a named handler.
type Listener struct {
	bus     store.Bus
	channel string
	name    string
	handler Handler
	logger  *zap.Logger
}

// New constructs a Listener. The name labels log lines and metrics.
func New(bus store.Bus, channel, name string, handler Handler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{bus: bus, channel: channel, name: name, handler: handler, logger: logger}
}

// Run blocks, dispatching signals until the context finishes. Handler errors
// are logged and the loop continues with the next signal; a consumer that
// misses one signal catches up on the next because its checkpoint persists.
func (l *Listener) Run(ctx context.Context) error {
	stream, err := l.bus.Subscribe(ctx, l.channel)
	if err != nil {
		return err
	}
	l.logger.Info("listener started",
		zap.String("listener", l.name), zap.String("channel", l.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-stream:
			if !ok {
				return ctx.Err()
			}
			metrics.ObserveSignal(l.name)
			if err := l.handler.HandleSignal(ctx, payload); err != nil {
				metrics.ObserveSignalError(l.name)
				l.logger.Error("signal handler failed",
					zap.String("listener", l.name),
					zap.String("payload", payload),
					zap.Error(err),
				)
			}
		}
	}
}
