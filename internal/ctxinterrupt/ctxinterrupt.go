// Package ctxinterrupt ties operator termination signals (SIGINT, SIGTERM)
// to context cancellation, so a shutdown request reaches the service as a
// canceled context rather than a process kill.
package ctxinterrupt

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// ErrInterrupt is the cancel cause used when a termination signal arrives.
var ErrInterrupt = errors.New("interrupt signal")

var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

type waiterKey struct{}

type waiter struct {
	ch chan os.Signal
}

// WithSignalWaiter attaches a process-wide signal subscription to ctx.
// Contexts derived through WithCancelOnInterrupt share the one subscription,
// so signals delivered between setup phases are not lost.
func WithSignalWaiter(ctx context.Context) context.Context {
	if ctx.Value(waiterKey{}) != nil {
		return ctx
	}
	w := &waiter{ch: make(chan os.Signal, 10)}
	signal.Notify(w.ch, signals...)
	return context.WithValue(ctx, waiterKey{}, w)
}

// WithSignalWaiterMain is WithSignalWaiter for the top of func main: the
// subscription lives for the remainder of the process.
func WithSignalWaiterMain(ctx context.Context) context.Context {
	return WithSignalWaiter(ctx)
}

// WithCancelOnInterrupt returns a context canceled with ErrInterrupt on the
// first termination signal. The returned stop func releases the watcher and,
// if this context owned the signal subscription, removes the signal hook.
func WithCancelOnInterrupt(ctx context.Context) (context.Context, context.CancelFunc) {
	w, _ := ctx.Value(waiterKey{}).(*waiter)
	ownSubscription := w == nil
	if ownSubscription {
		w = &waiter{ch: make(chan os.Signal, 10)}
		signal.Notify(w.ch, signals...)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-w.ch:
			cancel(ErrInterrupt)
		case <-ctx.Done():
		case <-stopped:
		}
	}()
	return ctx, func() {
		close(stopped)
		if ownSubscription {
			signal.Stop(w.ch)
		}
		cancel(context.Canceled)
	}
}

// Wait blocks until a signal arrives or ctx is done. Used for force-quit
// detection during shutdown.
func Wait(ctx context.Context) error {
	w, _ := ctx.Value(waiterKey{}).(*waiter)
	ch := make(chan os.Signal, 1)
	if w != nil {
		select {
		case <-w.ch:
			return ErrInterrupt
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)
	select {
	case <-ch:
		return ErrInterrupt
	case <-ctx.Done():
		return ctx.Err()
	}
}
