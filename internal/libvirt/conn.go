package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ErrNotConnected is returned while no libvirt connection is established.
var ErrNotConnected = errors.New("libvirt not connected")

// ConnManager owns a single libvirt RPC connection and reconnect flow.
// mu only guards the client pointer; dialing runs under dialMu so readers
// are never held up by a retry loop.
type ConnManager struct {
	mu     sync.RWMutex
	client *golibvirt.Libvirt

	dialMu    sync.Mutex
	uri       string
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	randSrc   *rand.Rand

	dial func(*url.URL) (*golibvirt.Libvirt, error)
}

func NewConnManager(uri string, retryWait, maxJitter time.Duration, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	return &ConnManager{
		uri:       uri,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: maxJitter,
		randSrc:   rand.New(rand.NewSource(time.Now().UnixNano())),
		dial: func(u *url.URL) (*golibvirt.Libvirt, error) {
			return golibvirt.ConnectToURI(u)
		},
	}
}

// Connect dials until it succeeds or ctx ends. A live connection is kept.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	if c := m.current(); c != nil {
		if _, err := c.Version(); err == nil {
			return nil
		}
		m.drop(c)
	}
	return m.dialLoop(ctx)
}

// Client returns the live connection without dialing. Request paths use it
// so a libvirt outage fails fast instead of blocking on the retry loop.
func (m *ConnManager) Client() (*golibvirt.Libvirt, error) {
	if c := m.current(); c != nil {
		return c, nil
	}
	return nil, ErrNotConnected
}

// Reconnect drops the current connection and dials again. Client reports
// ErrNotConnected until the new connection is up.
func (m *ConnManager) Reconnect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	if c := m.current(); c != nil {
		m.drop(c)
	}
	return m.dialLoop(ctx)
}

func (m *ConnManager) Healthy() error {
	c, err := m.Client()
	if err != nil {
		return err
	}
	if _, err := c.Version(); err != nil {
		return fmt.Errorf("libvirt version check failed: %w", err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Disconnect()
}

func (m *ConnManager) current() *golibvirt.Libvirt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// drop clears c if it is still the current client, then disconnects it.
func (m *ConnManager) drop(c *golibvirt.Libvirt) {
	m.mu.Lock()
	if m.client == c {
		m.client = nil
	}
	m.mu.Unlock()
	if err := c.Disconnect(); err != nil {
		m.logger.Warn("libvirt disconnect failed", "error", err)
	}
}

// dialLoop must be called with dialMu held.
func (m *ConnManager) dialLoop(ctx context.Context) error {
	uri, err := m.parseURI()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, dialErr := m.dial(uri)
		if dialErr == nil {
			m.mu.Lock()
			m.client = c
			m.mu.Unlock()
			m.logger.Info("libvirt connected", "uri", uri.Redacted())
			return nil
		}

		wait := m.retryWait + m.jitter()
		m.logger.Error("libvirt connect failed", "uri", uri.Redacted(), "error", dialErr, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *ConnManager) parseURI() (*url.URL, error) {
	raw := m.uri
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		uri, err = url.Parse(string(golibvirt.QEMUSystem))
		if err != nil {
			return nil, fmt.Errorf("parse fallback uri: %w", err)
		}
	}
	return uri, nil
}

func (m *ConnManager) jitter() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.randSrc.Int63n(int64(m.maxJitter)))
}
