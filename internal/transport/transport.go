// Package transport centralizes HTTP client construction for every
// provider adapter so connection pooling, TLS hardening, and per-host
// timeouts are configured once instead of once per vendor package.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/litellm-go/litellm/internal/tlsutil"
)

// Config tunes the pooled client returned by Manager.Client.
type Config struct {
	// Timeout is the default per-request timeout applied when a
	// request's context carries no earlier deadline.
	Timeout time.Duration

	// MaxIdleConnsPerHost raises the default (2) so a gateway talking
	// to a handful of upstream providers under load doesn't thrash
	// connection setup.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns sane pooling defaults for a multi-provider
// gateway: a shared client sees sustained concurrent traffic to a small
// set of hosts (one per provider), so idle-per-host capacity is raised
// well above the stdlib default.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 32,
	}
}

// Manager hands out a single *http.Client per distinct Config, built on
// tlsutil's hardened transport, so adapters constructed with the same
// timeout share one connection pool instead of each opening its own.
type Manager struct {
	mu      sync.Mutex
	clients map[Config]*http.Client
}

// NewManager creates an empty client manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[Config]*http.Client)}
}

// Client returns the shared *http.Client for cfg, constructing it on
// first use.
func (m *Manager) Client(cfg Config) *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[cfg]; ok {
		return c
	}

	tr := tlsutil.SecureTransport()
	if cfg.MaxIdleConnsPerHost > 0 {
		tr.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	c := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: tr,
	}
	m.clients[cfg] = c
	return c
}

// defaultManager backs the package-level Client helper used by adapters
// that don't need a dedicated Manager instance.
var defaultManager = NewManager()

// Client returns the process-wide shared client for cfg.
func Client(cfg Config) *http.Client {
	return defaultManager.Client(cfg)
}
