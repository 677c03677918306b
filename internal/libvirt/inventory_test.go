package libvirt

import (
	"context"
	"errors"
	"fmt"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora-fleet/internal/logging"
	"aurora-fleet/internal/model"
)

type fakeDomain struct {
	dom     golibvirt.Domain
	info    domainInfo
	infoErr error
}

type fakeClient struct {
	domains []*fakeDomain
	listErr error
	applied []string
}

func (f *fakeClient) find(name string) (*fakeDomain, error) {
	for _, d := range f.domains {
		if d.dom.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
}

func (f *fakeClient) ListDomains() ([]golibvirt.Domain, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]golibvirt.Domain, 0, len(f.domains))
	for _, d := range f.domains {
		out = append(out, d.dom)
	}
	return out, nil
}

func (f *fakeClient) LookupDomain(name string) (golibvirt.Domain, error) {
	d, err := f.find(name)
	if err != nil {
		return golibvirt.Domain{}, err
	}
	return d.dom, nil
}

func (f *fakeClient) DomainInfo(dom golibvirt.Domain) (domainInfo, error) {
	d, err := f.find(dom.Name)
	if err != nil {
		return domainInfo{}, err
	}
	return d.info, d.infoErr
}

func (f *fakeClient) transition(dom golibvirt.Domain, op string, to golibvirt.DomainState) error {
	d, err := f.find(dom.Name)
	if err != nil {
		return err
	}
	f.applied = append(f.applied, op)
	d.info.state = uint8(to)
	return nil
}

func (f *fakeClient) Create(dom golibvirt.Domain) error {
	return f.transition(dom, "create", golibvirt.DomainRunning)
}

func (f *fakeClient) Shutdown(dom golibvirt.Domain) error {
	return f.transition(dom, "shutdown", golibvirt.DomainShutdown)
}

func (f *fakeClient) Reboot(dom golibvirt.Domain) error {
	return f.transition(dom, "reboot", golibvirt.DomainRunning)
}

func (f *fakeClient) Destroy(dom golibvirt.Domain) error {
	return f.transition(dom, "destroy", golibvirt.DomainShutoff)
}

func (f *fakeClient) Suspend(dom golibvirt.Domain) error {
	return f.transition(dom, "suspend", golibvirt.DomainPaused)
}

func (f *fakeClient) Resume(dom golibvirt.Domain) error {
	return f.transition(dom, "resume", golibvirt.DomainRunning)
}

func (f *fakeClient) Reset(dom golibvirt.Domain) error {
	return f.transition(dom, "reset", golibvirt.DomainRunning)
}

func newTestInventory(c *fakeClient) *Inventory {
	return &Inventory{
		client:   func() (domainClient, error) { return c, nil },
		hostname: "kvm-01",
		logger:   logging.Discard(),
	}
}

func sampleClient() *fakeClient {
	return &fakeClient{domains: []*fakeDomain{
		{
			dom: golibvirt.Domain{
				Name: "vm1",
				UUID: golibvirt.UUID{0x6f, 0x1c, 0x2a, 0x3b, 0x4c, 0x5d, 0x4e, 0x6f, 0x80, 0x91, 0xa2, 0xb3, 0xc4, 0xd5, 0xe6, 0xf7},
			},
			info: domainInfo{state: uint8(golibvirt.DomainRunning), memoryKiB: 4 * 1024 * 1024, vcpus: 2},
		},
		{
			dom:  golibvirt.Domain{Name: "vm2"},
			info: domainInfo{state: uint8(golibvirt.DomainShutoff), memoryKiB: 1536 * 1024, vcpus: 1},
		},
	}}
}

func TestInventoryList(t *testing.T) {
	inv := newTestInventory(sampleClient())

	got, err := inv.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.VM{
		{
			Name:  "vm1",
			UUID:  "6f1c2a3b-4c5d-4e6f-8091-a2b3c4d5e6f7",
			State: "running",
			VCPUs: 2,
			MemG:  4,
			Host:  "kvm-01",
			FQDN:  "vm1.kvm-01",
		},
		{
			Name:  "vm2",
			UUID:  "00000000-0000-0000-0000-000000000000",
			State: "off",
			VCPUs: 1,
			MemG:  1,
			Host:  "kvm-01",
			FQDN:  "vm2.kvm-01",
		},
	}, got)
}

func TestInventoryList_SkipsUnreadableDomains(t *testing.T) {
	c := sampleClient()
	c.domains[0].infoErr = errors.New("rpc timeout")
	inv := newTestInventory(c)

	got, err := inv.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "vm2", got[0].Name)
}

func TestInventoryList_Errors(t *testing.T) {
	c := sampleClient()
	c.listErr = errors.New("connection reset")
	_, err := newTestInventory(c).List(context.Background())
	assert.ErrorContains(t, err, "connection reset")

	inv := &Inventory{
		client: func() (domainClient, error) { return nil, ErrNotConnected },
		logger: logging.Discard(),
	}
	_, err = inv.List(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInventoryGet(t *testing.T) {
	inv := newTestInventory(sampleClient())

	vm, err := inv.Get(context.Background(), "vm2")
	require.NoError(t, err)
	assert.Equal(t, "off", vm.State)

	_, err = inv.Get(context.Background(), "vm9")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestInventoryApply(t *testing.T) {
	tests := []struct {
		action    string
		wantState string
		wantOp    string
	}{
		{action: "start", wantState: "running", wantOp: "create"},
		{action: "create", wantState: "running", wantOp: "create"},
		{action: "shutdown", wantState: "shutdown", wantOp: "shutdown"},
		{action: "reboot", wantState: "running", wantOp: "reboot"},
		{action: "destroy", wantState: "off", wantOp: "destroy"},
		{action: "suspend", wantState: "paused", wantOp: "suspend"},
		{action: "resume", wantState: "running", wantOp: "resume"},
		{action: "reset", wantState: "running", wantOp: "reset"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			c := sampleClient()
			inv := newTestInventory(c)

			vm, err := inv.Apply(context.Background(), "vm2", tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, vm.State)
			assert.Equal(t, []string{tt.wantOp}, c.applied)
		})
	}
}

func TestInventoryApply_Errors(t *testing.T) {
	c := sampleClient()
	inv := newTestInventory(c)

	_, err := inv.Apply(context.Background(), "vm9", "start")
	assert.ErrorIs(t, err, ErrDomainNotFound)

	_, err = inv.Apply(context.Background(), "vm1", "explode")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.ErrorContains(t, err, "'explode'")
	assert.Empty(t, c.applied)
}

func TestStateLabel(t *testing.T) {
	assert.Equal(t, "no state", stateLabel(uint8(golibvirt.DomainNostate)))
	assert.Equal(t, "blocked", stateLabel(uint8(golibvirt.DomainBlocked)))
	assert.Equal(t, "crashed", stateLabel(uint8(golibvirt.DomainCrashed)))
	assert.Equal(t, "pm suspended", stateLabel(uint8(golibvirt.DomainPmsuspended)))
	assert.Equal(t, "unknown(42)", stateLabel(42))
}

func TestMemGiB(t *testing.T) {
	assert.Equal(t, 0, memGiB(1024*1024-1))
	assert.Equal(t, 1, memGiB(1024*1024))
	assert.Equal(t, 7, memGiB(8*1024*1024-1))
}
