package agent

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-fleet/internal/health"
	"aurora-fleet/internal/lifecycle"
)

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("node agent config", "hostname", a.cfg.Hostname, "libvirt_uri", a.cfg.LibvirtURI, "listen", a.cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lifecycle.ServeHTTP(gctx, a.server, a.logger, a.cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		return a.superviseLibvirt(gctx)
	})
	if a.probe != nil {
		g.Go(func() error {
			return a.probe.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// superviseLibvirt connects once, then keeps the connection healthy until
// ctx ends. The HTTP API answers 500 while libvirt is unreachable.
func (a *Agent) superviseLibvirt(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.setLibvirtConnected(true)
	return a.runHealthLoop(ctx)
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.conn.Healthy(); err != nil {
				a.logger.Warn("libvirt health check failed, reconnecting", "error", err)
				a.setLibvirtConnected(false)
				if recErr := a.conn.Reconnect(ctx); recErr != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.Error("libvirt reconnect failed", "error", recErr)
					continue
				}
				a.logger.Info("libvirt connection recovered")
			}
			a.setLibvirtConnected(true)
		}
	}
}

func (a *Agent) setLibvirtConnected(ok bool) {
	if ok {
		a.status.Set(health.StateHealthy)
		return
	}
	a.status.Set(health.StateUnhealthy)
}

func (a *Agent) Shutdown(context.Context) {
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("libvirt close failed", "error", err)
	}
	a.setLibvirtConnected(false)
}
