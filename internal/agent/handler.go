package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"aurora-fleet/internal/api"
	"aurora-fleet/internal/health"
	"aurora-fleet/internal/libvirt"
	"aurora-fleet/internal/model"
	"aurora-fleet/internal/nodeclient"
)

// Backend is the hypervisor inventory served by the node agent.
type Backend interface {
	List(ctx context.Context) ([]model.VM, error)
	Get(ctx context.Context, name string) (model.VM, error)
	Apply(ctx context.Context, name, action string) (model.VM, error)
}

type handler struct {
	backend Backend
	status  *health.Status
	logger  *slog.Logger
}

// NewHandler serves the node agent API the aggregator fans out to.
func NewHandler(backend Backend, status *health.Status, logger *slog.Logger) http.Handler {
	h := &handler{backend: backend, status: status, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /vms", h.handleList)
	mux.HandleFunc("GET /vms/{name}", h.handleGet)
	mux.HandleFunc("POST /vms/{name}", h.handleApply)
	mux.HandleFunc("GET /health", h.handleHealth)
	return api.WithAccessLog(mux, logger)
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	vms, err := h.backend.List(r.Context())
	if err != nil {
		h.internal(w, r, "list", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, vms)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	vm, err := h.backend.Get(r.Context(), name)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, vm)
	case errors.Is(err, libvirt.ErrDomainNotFound):
		api.WriteError(w, http.StatusNotFound, "Domain '%s' not found", name)
	default:
		h.internal(w, r, "get", err, "vm_name", name)
	}
}

func (h *handler) handleApply(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	req, err := api.DecodeAction(w, r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	vm, err := h.backend.Apply(r.Context(), name, req.State)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, vm)
	case errors.Is(err, libvirt.ErrDomainNotFound):
		api.WriteError(w, http.StatusNotFound, "VM '%s' not found", name)
	case errors.Is(err, libvirt.ErrUnsupportedAction):
		api.WriteError(w, http.StatusBadRequest, "Unsupported command '%s'", req.State)
	default:
		h.internal(w, r, "apply", err, "vm_name", name, "action", req.State)
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.status.Snapshot())
}

func (h *handler) internal(w http.ResponseWriter, r *http.Request, op string, err error, attrs ...any) {
	args := append([]any{"op", op, "error", err, "request_id", nodeclient.RequestID(r.Context())}, attrs...)
	h.logger.Error("libvirt request failed", args...)
	api.WriteError(w, http.StatusInternalServerError, "%s", err.Error())
}
