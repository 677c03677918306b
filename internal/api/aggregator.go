package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"aurora-fleet/internal/aggregator"
	"aurora-fleet/internal/health"
	"aurora-fleet/internal/model"
)

// VMService is the aggregator behaviour behind the public API.
type VMService interface {
	ListVMs(ctx context.Context) ([]json.RawMessage, error)
	GetVM(ctx context.Context, name string) ([]json.RawMessage, error)
	CommandVM(ctx context.Context, name, host string, req model.ActionRequest) ([]json.RawMessage, error)
	RequireWorkers() error
}

type aggregatorHandler struct {
	svc    VMService
	status *health.Status
	logger *slog.Logger
}

// NewAggregatorHandler mounts the aggregator routes under prefix, e.g. "/v1".
func NewAggregatorHandler(svc VMService, status *health.Status, prefix string, logger *slog.Logger) http.Handler {
	h := &aggregatorHandler{svc: svc, status: status, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/vms", h.handleList)
	mux.HandleFunc("GET "+prefix+"/vms/{name}", h.handleGet)
	mux.HandleFunc("POST "+prefix+"/vms/{name}", h.handleCommand)
	mux.HandleFunc("GET "+prefix+"/health", h.handleHealth)
	return WithAccessLog(mux, logger)
}

func (h *aggregatorHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListVMs(r.Context())
	h.reply(w, records, err)
}

func (h *aggregatorHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.GetVM(r.Context(), r.PathValue("name"))
	h.reply(w, records, err)
}

func (h *aggregatorHandler) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeAction(w, r)
	if err != nil {
		if werr := h.svc.RequireWorkers(); werr != nil {
			h.reply(w, nil, werr)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	records, err := h.svc.CommandVM(r.Context(), r.PathValue("name"), r.URL.Query().Get("host"), req)
	h.reply(w, records, err)
}

func (h *aggregatorHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.status.Snapshot())
}

func (h *aggregatorHandler) reply(w http.ResponseWriter, records []json.RawMessage, err error) {
	if err == nil {
		WriteJSON(w, http.StatusOK, records)
		return
	}
	switch {
	case errors.Is(err, aggregator.ErrNoWorkers):
		WriteError(w, http.StatusUnprocessableEntity, "%s", err.Error())
	case errors.Is(err, aggregator.ErrNotFound):
		WriteError(w, http.StatusNotFound, "%s", err.Error())
	default:
		h.logger.Error("aggregator request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
