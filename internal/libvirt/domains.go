package libvirt

import (
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"
)

type domainInfo struct {
	state     uint8
	memoryKiB uint64
	vcpus     uint16
}

// domainClient is the slice of the libvirt RPC API the inventory needs.
type domainClient interface {
	ListDomains() ([]golibvirt.Domain, error)
	LookupDomain(name string) (golibvirt.Domain, error)
	DomainInfo(dom golibvirt.Domain) (domainInfo, error)

	Create(dom golibvirt.Domain) error
	Shutdown(dom golibvirt.Domain) error
	Reboot(dom golibvirt.Domain) error
	Destroy(dom golibvirt.Domain) error
	Suspend(dom golibvirt.Domain) error
	Resume(dom golibvirt.Domain) error
	Reset(dom golibvirt.Domain) error
}

type rpcClient struct {
	l *golibvirt.Libvirt
}

func (c rpcClient) ListDomains() ([]golibvirt.Domain, error) {
	doms, _, err := c.l.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	return doms, nil
}

func (c rpcClient) LookupDomain(name string) (golibvirt.Domain, error) {
	dom, err := c.l.DomainLookupByName(name)
	if err != nil {
		return dom, notFoundOr(err, name)
	}
	return dom, nil
}

func (c rpcClient) DomainInfo(dom golibvirt.Domain) (domainInfo, error) {
	state, _, memory, vcpus, _, err := c.l.DomainGetInfo(dom)
	if err != nil {
		return domainInfo{}, notFoundOr(err, dom.Name)
	}
	return domainInfo{state: state, memoryKiB: memory, vcpus: vcpus}, nil
}

func (c rpcClient) Create(dom golibvirt.Domain) error   { return c.l.DomainCreate(dom) }
func (c rpcClient) Shutdown(dom golibvirt.Domain) error { return c.l.DomainShutdown(dom) }
func (c rpcClient) Reboot(dom golibvirt.Domain) error   { return c.l.DomainReboot(dom, 0) }
func (c rpcClient) Destroy(dom golibvirt.Domain) error  { return c.l.DomainDestroy(dom) }
func (c rpcClient) Suspend(dom golibvirt.Domain) error  { return c.l.DomainSuspend(dom) }
func (c rpcClient) Resume(dom golibvirt.Domain) error   { return c.l.DomainResume(dom) }
func (c rpcClient) Reset(dom golibvirt.Domain) error    { return c.l.DomainReset(dom, 0) }

func notFoundOr(err error, name string) error {
	if golibvirt.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}
	return err
}

type action func(domainClient, golibvirt.Domain) error

var actions = map[string]action{
	"create":   domainClient.Create,
	"start":    domainClient.Create,
	"shutdown": domainClient.Shutdown,
	"reboot":   domainClient.Reboot,
	"destroy":  domainClient.Destroy,
	"suspend":  domainClient.Suspend,
	"resume":   domainClient.Resume,
	"reset":    domainClient.Reset,
}

func lookupAction(name string) (action, bool) {
	a, ok := actions[name]
	return a, ok
}

func stateLabel(state uint8) string {
	switch golibvirt.DomainState(state) {
	case golibvirt.DomainNostate:
		return "no state"
	case golibvirt.DomainRunning:
		return "running"
	case golibvirt.DomainBlocked:
		return "blocked"
	case golibvirt.DomainPaused:
		return "paused"
	case golibvirt.DomainShutdown:
		return "shutdown"
	case golibvirt.DomainShutoff:
		return "off"
	case golibvirt.DomainCrashed:
		return "crashed"
	case golibvirt.DomainPmsuspended:
		return "pm suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func uuidToString(u golibvirt.UUID) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uint32(u[0])<<24|uint32(u[1])<<16|uint32(u[2])<<8|uint32(u[3]),
		uint16(u[4])<<8|uint16(u[5]),
		uint16(u[6])<<8|uint16(u[7]),
		uint16(u[8])<<8|uint16(u[9]),
		uint64(u[10])<<40|uint64(u[11])<<32|uint64(u[12])<<24|uint64(u[13])<<16|uint64(u[14])<<8|uint64(u[15]),
	)
}

// memGiB converts KiB to whole GiB, rounding down.
func memGiB(kib uint64) int {
	return int(kib / (1024 * 1024))
}
