// Package proxy implements the per-node LLM proxy manager (spec.md §4.8):
// translating or passing through between the internal Anthropic-compatible
// wire format a terminal CLI speaks and an upstream provider format.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/telemetry"
	"github.com/agentorch/agentserver/toolerrors"
)

// APIFormat selects the upstream wire format a proxy translates to.
type APIFormat string

const (
	// FormatAnthropic is a pass-through proxy (spec.md §4.8).
	FormatAnthropic APIFormat = "anthropic"
	// FormatOpenAI is a bidirectional transform proxy.
	FormatOpenAI APIFormat = "openai"
	// FormatBedrock is a bidirectional transform proxy.
	FormatBedrock APIFormat = "bedrock"
)

// Config describes one node's provider configuration (spec.md §6.3).
type Config struct {
	APIFormat     APIFormat
	UpstreamURL   string // pass-through target, e.g. https://api.anthropic.com
	UpstreamModel string // required for transform proxies
	APIKey        string
	Client        modelclient.Client // required for transform proxies
}

// Proxy is a single running per-node proxy (spec.md §4.8 lifecycle).
type Proxy struct {
	NodeID string
	Port   int
	URL    string

	server   *http.Server
	listener net.Listener
	release  func()
}

// BaseURL is the value the owning node injects into its child process
// environment (spec.md §6.5).
func (p *Proxy) BaseURL() string { return p.URL }

// Stop gracefully shuts down the proxy, allowing in-flight requests to
// finish, then releases its port (spec.md §4.8, "stop the proxy
// gracefully... release the port"). Stopping one proxy must never affect
// others: each Proxy owns an independent *http.Server and listener.
func (p *Proxy) Stop(ctx context.Context) error {
	defer p.release()
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

// Manager allocates ports and starts/stops per-node proxies (spec.md §4.8).
type Manager struct {
	logger telemetry.Logger

	mu       sync.Mutex
	nextPort int
	inUse    map[int]bool
	proxies  map[string]*Proxy

	limiter *rate.Limiter
}

// NewManager constructs a Manager that allocates ports starting at
// firstPort (inclusive).
func NewManager(firstPort int, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if firstPort <= 0 {
		firstPort = 41000
	}
	return &Manager{
		logger:   logger,
		nextPort: firstPort,
		inUse:    make(map[int]bool),
		proxies:  make(map[string]*Proxy),
		// Bounds the rate of retry attempts across all nodes' port allocation,
		// independent of any single node's exponential backoff (spec.md §4.8).
		limiter: rate.NewLimiter(rate.Limit(50), 50),
	}
}

const maxBindAttempts = 5

// Start allocates a free port with retry on contention (exponential
// backoff, up to 5 tries), starts the proxy, and polls its health endpoint
// until healthy or timeout (spec.md §4.8 lifecycle steps 1-3).
func (m *Manager) Start(ctx context.Context, nodeID string, cfg Config) (*Proxy, error) {
	handler, err := m.handlerFor(cfg)
	if err != nil {
		return nil, err
	}

	var listener net.Listener
	var port int
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		port = m.reservePort()
		l, lerr := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if lerr == nil {
			listener = l
			break
		}
		m.releasePort(port)
		m.logger.Warn(ctx, "proxy port bind failed, retrying", "node_id", nodeID, "port", port, "attempt", attempt, "error", lerr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	if listener == nil {
		return nil, toolerrors.Newf(toolerrors.Internal, "proxy: failed to bind a port for node %q after %d attempts", nodeID, maxBindAttempts)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/", handler)

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.logger.Error(ctx, "proxy server exited", "node_id", nodeID, "error", err)
		}
	}()

	p := &Proxy{
		NodeID:   nodeID,
		Port:     port,
		URL:      fmt.Sprintf("http://127.0.0.1:%d", port),
		server:   srv,
		listener: listener,
		release:  func() { m.releaseProxy(nodeID, port) },
	}

	if err := m.waitHealthy(ctx, p.URL, 5*time.Second); err != nil {
		_ = p.Stop(ctx)
		return nil, err
	}

	m.mu.Lock()
	m.proxies[nodeID] = p
	m.mu.Unlock()

	return p, nil
}

// Get returns the currently running proxy for nodeID, if any (spec.md §8
// property 8, "exactly one port is held for that node until the node is
// deleted").
func (m *Manager) Get(nodeID string) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[nodeID]
	return p, ok
}

func (m *Manager) releaseProxy(nodeID string, port int) {
	m.mu.Lock()
	delete(m.inUse, port)
	delete(m.proxies, nodeID)
	m.mu.Unlock()
}

func (m *Manager) handlerFor(cfg Config) (http.Handler, error) {
	switch cfg.APIFormat {
	case FormatAnthropic, "":
		return newPassthroughProxy(cfg, m.logger), nil
	case FormatOpenAI, FormatBedrock:
		if cfg.UpstreamModel == "" {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "transform proxy requires an explicit upstream model")
		}
		if cfg.Client == nil {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "transform proxy requires a model client")
		}
		return newTransformProxy(cfg, m.logger), nil
	default:
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "unknown api_format %q", cfg.APIFormat)
	}
}

func (m *Manager) reservePort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.inUse[m.nextPort] {
		m.nextPort++
	}
	port := m.nextPort
	m.inUse[port] = true
	m.nextPort++
	return port
}

func (m *Manager) releasePort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inUse, port)
}

func (m *Manager) waitHealthy(ctx context.Context, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return toolerrors.New(toolerrors.Timeout, "proxy health check timed out")
		}
		select {
		case <-time.After(25 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
