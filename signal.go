package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit is how a second signal ends the process. Tests replace it.
var forceExit = func() { os.Exit(1) }

// shutdownContext returns a context that is canceled by the first SIGINT or
// SIGTERM. The running pass then stops before its next file, still saving
// whatever its last batch finalized. A second signal exits immediately.
// stop releases the signal handler and must be called when the command ends.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, finishing current batch",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-done:
			return
		case <-parent.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting without saving",
				slog.String("signal", sig.String()),
			)
			forceExit()
		case <-done:
		case <-parent.Done():
		}
	}()

	return ctx, func() {
		close(done)
		cancel()
	}
}
