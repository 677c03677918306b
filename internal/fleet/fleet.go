// Package fleet wires the aggregator process: worker resolution, the shared
// node client and dispatcher, and the public HTTP API.
package fleet

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-fleet/internal/aggregator"
	"aurora-fleet/internal/api"
	"aurora-fleet/internal/config"
	"aurora-fleet/internal/fanout"
	"aurora-fleet/internal/health"
	"aurora-fleet/internal/lifecycle"
	"aurora-fleet/internal/nodeclient"
	"aurora-fleet/internal/workers"
)

type Aggregator struct {
	cfg    config.Aggregator
	logger *slog.Logger
	status *health.Status
	client *nodeclient.Client
	server *http.Server
	probe  *health.GRPCProbe
}

// New resolves the worker set once to size the dispatcher and connection
// pool. Requests still re-resolve workers every time.
func New(cfg config.Aggregator, logger *slog.Logger) *Aggregator {
	resolver := workers.FromConfig(cfg)
	status := health.NewStatus(cfg.Version)

	initial, err := resolver.Resolve()
	if err != nil {
		logger.Error("resolve workers failed", "error", err)
	}
	status.SetFromWorkers(len(initial))
	logger.Info("workers initialized", "workers", initial, "count", len(initial), "status", status.State())

	dispatcher := fanout.NewDispatcher(len(initial))
	client := nodeclient.New(dispatcher.Limit(), cfg.WorkerTimeout, logger)
	svc := aggregator.NewService(resolver, dispatcher, client, status, logger)
	logger.Debug("fan-out limiter sized", "concurrency", dispatcher.Limit())

	a := &Aggregator{
		cfg:    cfg,
		logger: logger,
		status: status,
		client: client,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewAggregatorHandler(svc, status, cfg.APIPrefix(), logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.GRPCHealthAddr != "" {
		a.probe = health.NewGRPCProbe(cfg.GRPCHealthAddr, "aurora.Aggregator", status, logger)
	}
	return a
}

func (a *Aggregator) Status() *health.Status {
	return a.status
}

func (a *Aggregator) Handler() http.Handler {
	return a.server.Handler
}

func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("aggregator config", "listen", a.cfg.ListenAddr, "prefix", a.cfg.APIPrefix(), "worker_timeout", a.cfg.WorkerTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lifecycle.ServeHTTP(gctx, a.server, a.logger, a.cfg.ShutdownTimeout)
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

func (a *Aggregator) Shutdown(context.Context) {
	a.client.CloseIdleConnections()
}
