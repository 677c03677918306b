package model

import "strings"

// VM is a libvirt domain as reported by the node agent that hosts it.
// The aggregator never decodes into this type; it relays node payloads as raw JSON.
type VM struct {
	Name  string `json:"name"`
	UUID  string `json:"uuid"`
	State string `json:"state"`
	VCPUs int    `json:"vcpus"`
	MemG  int    `json:"memG"`
	Host  string `json:"host"`
	FQDN  string `json:"FQDN"`
}

// ActionRequest asks a node agent to move a VM to a new state.
type ActionRequest struct {
	State string `json:"state"`
}

func (r ActionRequest) Normalized() ActionRequest {
	return ActionRequest{State: strings.TrimSpace(r.State)}
}
