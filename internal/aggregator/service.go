// Package aggregator merges the inventories of every node agent into a
// single view and routes VM commands to the node that hosts the VM.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"aurora-fleet/internal/fanout"
	"aurora-fleet/internal/health"
	"aurora-fleet/internal/model"
	"aurora-fleet/internal/nodeclient"
	"aurora-fleet/internal/workers"
)

// NodeCaller performs one call against one worker and classifies the result.
type NodeCaller interface {
	List(ctx context.Context, worker string) nodeclient.Outcome
	Fetch(ctx context.Context, worker, name string) nodeclient.Outcome
	Command(ctx context.Context, worker, name string, req model.ActionRequest) nodeclient.Outcome
}

type Service struct {
	resolver   workers.Resolver
	dispatcher *fanout.Dispatcher
	nodes      NodeCaller
	health     *health.Status
	logger     *slog.Logger
}

func NewService(
	resolver workers.Resolver,
	dispatcher *fanout.Dispatcher,
	nodes NodeCaller,
	status *health.Status,
	logger *slog.Logger,
) *Service {
	return &Service{
		resolver:   resolver,
		dispatcher: dispatcher,
		nodes:      nodes,
		health:     status,
		logger:     logger,
	}
}

// ListVMs returns every VM known to any worker, grouped by worker in
// configuration order.
func (s *Service) ListVMs(ctx context.Context) ([]json.RawMessage, error) {
	targets, err := s.resolve()
	if err != nil {
		return nil, err
	}
	ctx = s.fanoutContext(ctx)
	for _, w := range targets {
		s.logger.Debug("requesting vm list", "worker", w, "fanout_id", nodeclient.RequestID(ctx))
	}
	outcomes := fanout.Gather(ctx, s.dispatcher, len(targets), func(ctx context.Context, i int) nodeclient.Outcome {
		return s.nodes.List(ctx, targets[i])
	})
	records := s.merge(ctx, "list", outcomes)
	if len(records) == 0 {
		return nil, newError(ErrNotFound, "No domains found")
	}
	return records, nil
}

// GetVM asks every worker for the named VM. Names are not assumed unique
// across the fleet, so more than one record may come back.
func (s *Service) GetVM(ctx context.Context, name string) ([]json.RawMessage, error) {
	targets, err := s.resolve()
	if err != nil {
		return nil, err
	}
	ctx = s.fanoutContext(ctx)
	outcomes := fanout.Gather(ctx, s.dispatcher, len(targets), func(ctx context.Context, i int) nodeclient.Outcome {
		return s.nodes.Fetch(ctx, targets[i], name)
	})
	records := s.merge(ctx, "get", outcomes, "vm_name", name)
	if len(records) == 0 {
		return nil, newError(ErrNotFound, fmt.Sprintf("Domain '%s' not found", name))
	}
	return records, nil
}

// CommandVM sends req to host when given, otherwise to every worker, and
// returns the updated record from each worker that executed it.
func (s *Service) CommandVM(ctx context.Context, name, host string, req model.ActionRequest) ([]json.RawMessage, error) {
	configured, err := s.resolve()
	if err != nil {
		return nil, err
	}
	targets := configured
	if host != "" {
		targets = []string{host}
	}
	ctx = s.fanoutContext(ctx)
	outcomes := fanout.Gather(ctx, s.dispatcher, len(targets), func(ctx context.Context, i int) nodeclient.Outcome {
		return s.nodes.Command(ctx, targets[i], name, req)
	})
	records := s.merge(ctx, "command", outcomes, "vm_name", name, "action", req.State)
	if len(records) == 0 {
		return nil, newError(ErrNotFound, fmt.Sprintf("No worker executed '%s' on '%s'", req.State, name))
	}
	return records, nil
}

// RequireWorkers fails with ErrNoWorkers when the worker set is empty. The
// API calls it before rejecting a malformed command so that a missing
// configuration is reported first.
func (s *Service) RequireWorkers() error {
	_, err := s.resolve()
	return err
}

// resolve reads the worker set for this request. An empty or unreadable set
// flips the process health to unhealthy.
func (s *Service) resolve() ([]string, error) {
	targets, err := s.resolver.Resolve()
	if err != nil {
		s.logger.Error("resolve workers failed", "error", err)
	}
	if len(targets) == 0 {
		s.health.Set(health.StateUnhealthy)
		return nil, newError(ErrNoWorkers, "No WORKER_HOSTS configured")
	}
	return targets, nil
}

// fanoutContext detaches worker calls from client cancellation and tags them
// with a fresh fan-out id for log correlation.
func (s *Service) fanoutContext(ctx context.Context) context.Context {
	ctx = context.WithoutCancel(ctx)
	if nodeclient.RequestID(ctx) != "" {
		return ctx
	}
	return nodeclient.WithRequestID(ctx, uuid.NewString())
}

// merge flattens successful outcomes in dispatch order. Not-found and failed
// outcomes contribute nothing; they are only counted for the summary log.
func (s *Service) merge(ctx context.Context, op string, outcomes []nodeclient.Outcome, attrs ...any) []json.RawMessage {
	var records []json.RawMessage
	var ok, notFound, failed int
	for _, o := range outcomes {
		switch o.Kind {
		case nodeclient.KindSuccess:
			ok++
			records = append(records, o.Records...)
		case nodeclient.KindNotFound:
			notFound++
		default:
			failed++
		}
	}
	args := append([]any{
		"op", op,
		"fanout_id", nodeclient.RequestID(ctx),
		"targets", len(outcomes),
		"succeeded", ok,
		"not_found", notFound,
		"failed", failed,
		"records", len(records),
	}, attrs...)
	s.logger.Debug("fan-out complete", args...)
	return records
}
