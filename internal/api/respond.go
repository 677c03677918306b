// Package api holds the HTTP surface shared by the aggregator and the node
// agent: JSON replies, error bodies and the access log.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aurora-fleet/internal/model"
	"aurora-fleet/internal/nodeclient"
)

const maxRequestBodySize = 1 << 20

var errEmptyBody = errors.New("request body is empty")

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError replies with {"detail": msg}.
func WriteError(w http.ResponseWriter, status int, format string, args ...any) {
	WriteJSON(w, status, model.ErrorResponse{Detail: fmt.Sprintf(format, args...)})
}

// DecodeAction reads a {"state": ...} body. A missing or malformed body is
// an error; an empty state is left for the node agent to reject.
func DecodeAction(w http.ResponseWriter, r *http.Request) (model.ActionRequest, error) {
	var req model.ActionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errEmptyBody
		}
		return req, err
	}
	return req.Normalized(), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithAccessLog logs every request at debug and carries an inbound
// X-Request-ID into the request context.
func WithAccessLog(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if id := r.Header.Get(nodeclient.RequestIDHeader); id != "" {
			r = r.WithContext(nodeclient.WithRequestID(r.Context(), id))
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", r.Header.Get(nodeclient.RequestIDHeader),
		)
	})
}
