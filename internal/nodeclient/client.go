// Package nodeclient talks to node agents over HTTP. Every call ends in exactly
// one Outcome; transport errors, timeouts and bad responses are classified
// here and never returned to the caller as Go errors.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aurora-fleet/internal/model"
)

const (
	// RequestIDHeader carries the aggregator fan-out id to node agents.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 8 << 20
	maxDetailLen   = 256
)

type Kind int

const (
	KindSuccess Kind = iota
	KindNotFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one call to one worker.
type Outcome struct {
	Worker  string
	Kind    Kind
	Records []json.RawMessage
	Err     error
}

// StatusError is a non-2xx answer other than 404.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("worker responded %d", e.Code)
	}
	return fmt.Sprintf("worker responded %d: %s", e.Code, e.Detail)
}

var errEmptyCommandResponse = errors.New("empty command response")

type requestIDKey struct{}

// WithRequestID tags outbound calls made with ctx with a fan-out id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Client is shared by every request of the process; its transport keeps up to
// poolSize idle connections so a full fan-out can reuse them.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func New(poolSize int, timeout time.Duration, logger *slog.Logger) *Client {
	if poolSize < 1 {
		poolSize = 1
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = poolSize
	transport.MaxIdleConnsPerHost = poolSize
	return &Client{
		http:    &http.Client{Transport: transport},
		timeout: timeout,
		logger:  logger,
	}
}

func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// List fetches the full inventory of one worker. A body that is not a JSON
// array counts as an empty inventory.
func (c *Client) List(ctx context.Context, worker string) Outcome {
	const op = "GET /vms"
	status, body, err := c.do(ctx, http.MethodGet, worker, "/vms", nil)
	if err == nil && !is2xx(status) {
		err = statusError(status, body)
	}
	if err != nil {
		return c.failed(ctx, worker, op, err)
	}
	d, err := decodeRecords(body)
	if err != nil {
		return c.failed(ctx, worker, op, err)
	}
	if d.shape != shapeItems {
		c.logger.Warn("worker inventory is not a list, treating as empty",
			"worker", worker, "shape", d.shape.String(), "fanout_id", RequestID(ctx))
		return Outcome{Worker: worker, Kind: KindSuccess}
	}
	return Outcome{Worker: worker, Kind: KindSuccess, Records: d.records}
}

// Fetch looks one VM up on one worker. A 404 is the normal answer from
// workers that do not host the VM and is not treated as a failure.
func (c *Client) Fetch(ctx context.Context, worker, name string) Outcome {
	op := "GET /vms/" + name
	status, body, err := c.do(ctx, http.MethodGet, worker, vmPath(name), nil)
	if err == nil && status == http.StatusNotFound {
		c.logger.Debug("vm not on worker", "worker", worker, "vm_name", name, "fanout_id", RequestID(ctx))
		return Outcome{Worker: worker, Kind: KindNotFound}
	}
	if err == nil && !is2xx(status) {
		err = statusError(status, body)
	}
	if err != nil {
		return c.failed(ctx, worker, op, err, "vm_name", name)
	}
	d, err := decodeRecords(body)
	if err != nil {
		return c.failed(ctx, worker, op, err, "vm_name", name)
	}
	return Outcome{Worker: worker, Kind: KindSuccess, Records: d.records}
}

// Command asks one worker to apply req to the named VM and captures the
// updated record it answers with.
func (c *Client) Command(ctx context.Context, worker, name string, req model.ActionRequest) Outcome {
	op := "POST /vms/" + name
	status, body, err := c.do(ctx, http.MethodPost, worker, vmPath(name), req)
	if err == nil && status == http.StatusNotFound {
		c.logger.Debug("vm not on worker", "worker", worker, "vm_name", name, "action", req.State, "fanout_id", RequestID(ctx))
		return Outcome{Worker: worker, Kind: KindNotFound}
	}
	if err == nil && !is2xx(status) {
		err = statusError(status, body)
	}
	var d decoded
	if err == nil {
		d, err = decodeRecords(body)
	}
	if err == nil && d.shape == shapeEmpty {
		err = errEmptyCommandResponse
	}
	if err != nil {
		return c.failed(ctx, worker, op, err, "vm_name", name, "action", req.State)
	}
	return Outcome{Worker: worker, Kind: KindSuccess, Records: d.records}
}

func (c *Client) failed(ctx context.Context, worker, op string, err error, attrs ...any) Outcome {
	args := append([]any{"worker", worker, "op", op, "error", err, "fanout_id", RequestID(ctx)}, attrs...)
	c.logger.Error("worker call failed", args...)
	return Outcome{Worker: worker, Kind: KindFailed, Err: err}
}

func (c *Client) do(ctx context.Context, method, worker, path string, payload any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint(worker, path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestID(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return resp.StatusCode, nil, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}
	return resp.StatusCode, raw, nil
}

// endpoint accepts bare host:port workers as well as full base URLs.
func endpoint(worker, path string) string {
	base := strings.TrimRight(worker, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + path
}

func vmPath(name string) string {
	return "/vms/" + url.PathEscape(name)
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

func statusError(status int, body []byte) error {
	var er model.ErrorResponse
	detail := ""
	if json.Unmarshal(body, &er) == nil && er.Detail != "" {
		detail = er.Detail
	} else {
		detail = strings.TrimSpace(string(body))
	}
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen] + "..."
	}
	return &StatusError{Code: status, Detail: detail}
}
