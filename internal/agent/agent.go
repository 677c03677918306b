// Package agent runs the node agent: a small HTTP service in front of the
// local libvirt daemon that the aggregator fans out to.
package agent

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"aurora-fleet/internal/config"
	"aurora-fleet/internal/health"
	"aurora-fleet/internal/libvirt"
)

// connector is the libvirt connection lifecycle the agent supervises.
type connector interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Healthy() error
	Close() error
}

type Agent struct {
	cfg    config.NodeAgent
	logger *slog.Logger
	conn   connector
	status *health.Status
	server *http.Server
	probe  *health.GRPCProbe
}

func New(cfg config.NodeAgent, logger *slog.Logger) *Agent {
	conn := libvirt.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger)
	inventory := libvirt.NewInventory(conn, cfg.Hostname, logger)
	return newAgent(cfg, logger, conn, inventory)
}

func newAgent(cfg config.NodeAgent, logger *slog.Logger, conn connector, backend Backend) *Agent {
	status := health.NewStatus(cfg.Version)
	status.Set(health.StateUnhealthy)

	a := &Agent{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		status: status,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewHandler(backend, status, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.GRPCHealthAddr != "" {
		a.probe = health.NewGRPCProbe(cfg.GRPCHealthAddr, "aurora.NodeAgent", status, logger)
	}
	return a
}

func (a *Agent) Status() *health.Status {
	return a.status
}
