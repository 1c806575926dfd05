package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// interrupts turns shutdown signals into context cancellation. The first
// signal cancels; the second calls exit with exitInterrupted.
type interrupts struct {
	sigs   chan os.Signal
	exit   func(code int)
	logger *slog.Logger
}

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM
// and a release func that uninstalls the handler. Commands abort uploads or
// drain the receiver on cancellation.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	in := &interrupts{sigs: make(chan os.Signal, 2), exit: os.Exit, logger: logger}
	signal.Notify(in.sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, release := in.watch(parent)

	return ctx, func() {
		release()
		signal.Stop(in.sigs)
	}
}

func (in *interrupts) watch(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	released := make(chan struct{})

	go func() {
		seen := 0

		for {
			select {
			case sig := <-in.sigs:
				seen++
				if seen == 1 {
					in.logger.Info("interrupted, stopping", slog.String("signal", sig.String()))
					cancel()

					continue
				}

				in.logger.Warn("interrupted again, exiting", slog.String("signal", sig.String()))
				in.exit(exitInterrupted)

				return
			case <-parent.Done():
				return
			case <-released:
				return
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(released)
			cancel()
		})
	}
}
