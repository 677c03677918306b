// Package lifecycle runs a long-lived process until its context ends or the
// process receives SIGINT/SIGTERM, then shuts it down within a grace period.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type Process interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context)
}

type Runner struct {
	Name            string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration

	// Signals overrides the OS signal source, for tests.
	Signals <-chan os.Signal
}

func (r Runner) Run(ctx context.Context, p Process) error {
	r.Logger.Info("starting " + r.Name)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- p.Run(runCtx)
	}()

	sigCh := r.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		r.Logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", r.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(r.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			r.Logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			r.Logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", r.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), r.ShutdownTimeout)
	defer cancelShutdown()
	p.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	r.Logger.Info(r.Name + " stopped")
	return nil
}

// ServeHTTP serves srv on its Addr until ctx ends, then drains it.
func ServeHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger, drainTimeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", srv.Addr, err)
	}
	return Serve(ctx, srv, ln, logger, drainTimeout)
}

func Serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger, drainTimeout time.Duration) error {
	logger.Info("http endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http %s: %w", ln.Addr(), err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
		_ = srv.Close()
	}
	return nil
}
