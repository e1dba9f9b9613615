package osutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext derives a context from parent that ends when Ctrl+C or
// SIGTERM arrives, so an interrupted run unwinds instead of dying
// mid-download.
func SignalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}
