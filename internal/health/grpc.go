package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProbe serves the standard grpc.health.v1 service and mirrors Status
// into it, for orchestrators that prefer gRPC probes over HTTP.
type GRPCProbe struct {
	addr    string
	service string
	logger  *slog.Logger
	hs      *grpchealth.Server
	srv     *grpc.Server
}

func NewGRPCProbe(addr, service string, status *Status, logger *slog.Logger) *GRPCProbe {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	p := &GRPCProbe{
		addr:    addr,
		service: service,
		logger:  logger,
		hs:      hs,
		srv:     srv,
	}
	status.OnChange(func(st State) {
		serving := servingStatus(st)
		hs.SetServingStatus("", serving)
		hs.SetServingStatus(service, serving)
	})
	return p
}

func (p *GRPCProbe) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("listen grpc health %s: %w", p.addr, err)
	}
	p.logger.Info("grpc health endpoint listening", "addr", ln.Addr().String(), "service", p.service)

	go func() {
		<-ctx.Done()
		p.hs.Shutdown()
		p.srv.GracefulStop()
	}()

	if err := p.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

func (p *GRPCProbe) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := p.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func servingStatus(st State) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case StateHealthy:
		return healthpb.HealthCheckResponse_SERVING
	case StateUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
