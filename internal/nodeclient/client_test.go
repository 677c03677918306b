package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora-fleet/internal/logging"
	"aurora-fleet/internal/model"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestClient(t *testing.T, timeout time.Duration) (*Client, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	c := New(2, timeout, logging.New(logs, "debug", false))
	t.Cleanup(c.CloseIdleConnections)
	return c, logs
}

func workerAddr(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func recordsAsStrings(recs []json.RawMessage) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, string(r))
	}
	return out
}

func TestList_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/vms", r.URL.Path)
		assert.Equal(t, "fan-1", r.Header.Get(RequestIDHeader))
		_, _ = io.WriteString(w, `[{"name":"vm1"},{"name":"vm2"}]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, time.Second)
	out := c.List(WithRequestID(context.Background(), "fan-1"), workerAddr(srv))

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, workerAddr(srv), out.Worker)
	assert.Equal(t, []string{`{"name":"vm1"}`, `{"name":"vm2"}`}, recordsAsStrings(out.Records))
}

func TestList_NonListBodyIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"vm1"}`)
	}))
	defer srv.Close()

	c, logs := newTestClient(t, time.Second)
	out := c.List(context.Background(), workerAddr(srv))

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Empty(t, out.Records)
	assert.Contains(t, logs.String(), "worker inventory is not a list")
}

func TestList_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"detail":"libvirt down"}`)
			},
			wantErr: "worker responded 500: libvirt down",
		},
		{
			name: "not found on list is a failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantErr: "worker responded 404",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `[{"name":`)
			},
			wantErr: "unexpected response body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, logs := newTestClient(t, time.Second)
			out := c.List(context.Background(), workerAddr(srv))

			assert.Equal(t, KindFailed, out.Kind)
			require.Error(t, out.Err)
			assert.Contains(t, out.Err.Error(), tt.wantErr)
			assert.Contains(t, logs.String(), "worker call failed")
			assert.Contains(t, logs.String(), "worker="+workerAddr(srv))
		})
	}
}

func TestList_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := workerAddr(srv)
	srv.Close()

	c, logs := newTestClient(t, time.Second)
	out := c.List(context.Background(), addr)

	assert.Equal(t, KindFailed, out.Kind)
	assert.Error(t, out.Err)
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestList_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, 50*time.Millisecond)
	start := time.Now()
	out := c.List(context.Background(), workerAddr(srv))

	assert.Equal(t, KindFailed, out.Kind)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetch_ItemAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vms/single":
			_, _ = io.WriteString(w, `{"name":"single"}`)
		case "/vms/wrapped":
			_, _ = io.WriteString(w, `[{"name":"wrapped"}]`)
		case "/vms/with space":
			_, _ = io.WriteString(w, `{"name":"with space"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, time.Second)
	ctx := context.Background()

	out := c.Fetch(ctx, workerAddr(srv), "single")
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, []string{`{"name":"single"}`}, recordsAsStrings(out.Records))

	out = c.Fetch(ctx, workerAddr(srv), "wrapped")
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, []string{`{"name":"wrapped"}`}, recordsAsStrings(out.Records))

	out = c.Fetch(ctx, workerAddr(srv), "with space")
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Len(t, out.Records, 1)
}

func TestFetch_NotFoundIsQuiet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Domain 'vm9' not found"}`)
	}))
	defer srv.Close()

	c, logs := newTestClient(t, time.Second)
	out := c.Fetch(context.Background(), workerAddr(srv), "vm9")

	assert.Equal(t, KindNotFound, out.Kind)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Records)
	assert.NotContains(t, logs.String(), "level=ERROR")
	assert.NotContains(t, logs.String(), "worker call failed")
}

func TestFetch_ServerErrorIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, logs := newTestClient(t, time.Second)
	out := c.Fetch(context.Background(), workerAddr(srv), "vm1")

	assert.Equal(t, KindFailed, out.Kind)
	var se *StatusError
	require.ErrorAs(t, out.Err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "boom", se.Detail)
	assert.Contains(t, logs.String(), "vm_name=vm1")
}

func TestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req model.ActionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case r.URL.Path == "/vms/missing":
			http.NotFound(w, r)
		case req.State == "explode":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"Unsupported command 'explode'"}`)
		case req.State == "silent":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = io.WriteString(w, `{"name":"vm1","state":"`+req.State+`"}`)
		}
	}))
	defer srv.Close()

	c, logs := newTestClient(t, time.Second)
	ctx := context.Background()
	worker := workerAddr(srv)

	out := c.Command(ctx, worker, "vm1", model.ActionRequest{State: "shutdown"})
	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, []string{`{"name":"vm1","state":"shutdown"}`}, recordsAsStrings(out.Records))

	out = c.Command(ctx, worker, "missing", model.ActionRequest{State: "shutdown"})
	assert.Equal(t, KindNotFound, out.Kind)
	assert.NotContains(t, logs.String(), "level=ERROR")

	out = c.Command(ctx, worker, "vm1", model.ActionRequest{State: "explode"})
	assert.Equal(t, KindFailed, out.Kind)
	assert.Contains(t, out.Err.Error(), "Unsupported command")
	assert.Contains(t, logs.String(), "action=explode")
	assert.Contains(t, logs.String(), "vm_name=vm1")

	out = c.Command(ctx, worker, "vm1", model.ActionRequest{State: "silent"})
	assert.Equal(t, KindFailed, out.Kind)
	assert.ErrorIs(t, out.Err, errEmptyCommandResponse)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "http://a:80/vms", endpoint("a:80", "/vms"))
	assert.Equal(t, "https://a.example/vms", endpoint("https://a.example/", "/vms"))
	assert.Equal(t, "/vms/vm%201", vmPath("vm 1"))
}

func TestStatusError_TruncatesDetail(t *testing.T) {
	err := statusError(500, []byte(strings.Repeat("x", 1000)))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Detail, maxDetailLen+3)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", KindSuccess.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "failed", KindFailed.String())
}
