// Package cliapp runs a long-lived service behind a urfave/cli action:
// setup from flags, start, block until an interrupt or an internal close
// request, then stop with reverse-order resource release.
package cliapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/shafiqsaaidin/badvpn/internal/ctxinterrupt"
)

// Lifecycle is a service that can be started and stopped once.
type Lifecycle interface {
	// Start begins background work. It must not block for the lifetime of
	// the service.
	Start(ctx context.Context) error
	// Stop tears the service down. It must be safe to call more than once
	// and after a failed Start.
	Stop(ctx context.Context) error
	// Stopped reports whether Stop completed.
	Stopped() bool
}

// LifecycleAction instantiates a Lifecycle from parsed CLI flags. The
// closeApp function may be retained to shut the whole app down later, e.g.
// on a fatal runtime error; its cause becomes the command's exit error.
type LifecycleAction func(ctx *cli.Context, closeApp context.CancelCauseFunc) (Lifecycle, error)

var errAppClosed = errors.New("app closed")

// LifecycleCmd turns a LifecycleAction into a blocking CLI action.
// An operator signal requests a graceful stop and exits clean; a second
// signal abandons the graceful stop.
func LifecycleCmd(action LifecycleAction) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		hostCtx := cliCtx.Context
		appCtx, closeApp := context.WithCancelCause(hostCtx)
		cliCtx.Context = appCtx
		defer closeApp(errAppClosed)

		// First operator signal closes the app.
		sigCtx, stopSigWatch := ctxinterrupt.WithCancelOnInterrupt(appCtx)
		defer stopSigWatch()
		go func() {
			<-sigCtx.Done()
			closeApp(context.Cause(sigCtx))
		}()

		appLifecycle, err := action(cliCtx, closeApp)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to setup: %w", err), stopIfStarted(hostCtx, appLifecycle))
		}

		if err := appLifecycle.Start(appCtx); err != nil {
			return errors.Join(fmt.Errorf("failed to start: %w", err), stopIfStarted(hostCtx, appLifecycle))
		}

		// Block until an interrupt or an internal close request arrives.
		<-appCtx.Done()

		// Graceful stop, interruptible by a second signal.
		stopCtx, stopCancel := ctxinterrupt.WithCancelOnInterrupt(hostCtx)
		stopErr := appLifecycle.Stop(stopCtx)
		stopCancel()
		if stopErr != nil {
			return fmt.Errorf("failed to stop: %w", stopErr)
		}

		cause := context.Cause(appCtx)
		switch {
		case errors.Is(cause, ctxinterrupt.ErrInterrupt),
			errors.Is(cause, errAppClosed),
			errors.Is(cause, context.Canceled):
			return nil
		default:
			return cause
		}
	}
}

func stopIfStarted(ctx context.Context, l Lifecycle) error {
	if l == nil {
		return nil
	}
	return l.Stop(ctx)
}
