package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	golibvirt "github.com/digitalocean/go-libvirt"

	"aurora-fleet/internal/model"
)

var (
	ErrDomainNotFound    = errors.New("domain not found")
	ErrUnsupportedAction = errors.New("unsupported action")
)

// Inventory reads and drives the domains of the local hypervisor.
type Inventory struct {
	client   func() (domainClient, error)
	hostname string
	logger   *slog.Logger
}

func NewInventory(conn *ConnManager, hostname string, logger *slog.Logger) *Inventory {
	return &Inventory{
		client: func() (domainClient, error) {
			l, err := conn.Client()
			if err != nil {
				return nil, err
			}
			return rpcClient{l: l}, nil
		},
		hostname: hostname,
		logger:   logger,
	}
}

// List returns every defined domain. Domains whose info cannot be read are
// skipped.
func (inv *Inventory) List(ctx context.Context) ([]model.VM, error) {
	c, err := inv.client()
	if err != nil {
		return nil, err
	}
	doms, err := c.ListDomains()
	if err != nil {
		return nil, err
	}
	out := make([]model.VM, 0, len(doms))
	for _, dom := range doms {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vm, err := inv.describe(c, dom)
		if err != nil {
			inv.logger.Warn("read domain info failed, skipping", "domain", dom.Name, "error", err)
			continue
		}
		out = append(out, vm)
	}
	return out, nil
}

func (inv *Inventory) Get(_ context.Context, name string) (model.VM, error) {
	c, err := inv.client()
	if err != nil {
		return model.VM{}, err
	}
	dom, err := c.LookupDomain(name)
	if err != nil {
		return model.VM{}, err
	}
	return inv.describe(c, dom)
}

// Apply runs the named action against the domain and returns its record
// as it stands afterwards.
func (inv *Inventory) Apply(_ context.Context, name, actionName string) (model.VM, error) {
	c, err := inv.client()
	if err != nil {
		return model.VM{}, err
	}
	dom, err := c.LookupDomain(name)
	if err != nil {
		return model.VM{}, err
	}
	act, ok := lookupAction(actionName)
	if !ok {
		return model.VM{}, fmt.Errorf("%w '%s'", ErrUnsupportedAction, actionName)
	}
	if err := act(c, dom); err != nil {
		return model.VM{}, fmt.Errorf("%s %s: %w", actionName, name, notFoundOr(err, name))
	}
	inv.logger.Info("domain action applied", "domain", name, "action", actionName)
	return inv.describe(c, dom)
}

func (inv *Inventory) describe(c domainClient, dom golibvirt.Domain) (model.VM, error) {
	info, err := c.DomainInfo(dom)
	if err != nil {
		return model.VM{}, err
	}
	return model.VM{
		Name:  dom.Name,
		UUID:  uuidToString(dom.UUID),
		State: stateLabel(info.state),
		VCPUs: int(info.vcpus),
		MemG:  memGiB(info.memoryKiB),
		Host:  inv.hostname,
		FQDN:  dom.Name + "." + inv.hostname,
	}, nil
}
