// Package comms implements the multi-mode communication manager: synchronous
// HTTP invocation, asynchronous invocation with callback delivery, and
// streaming sessions over a shared WebSocket connection per agent.
package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/agentmesh/internal/a2a"
	amotel "github.com/loomworks/agentmesh/internal/adapter/otel"
	"github.com/loomworks/agentmesh/internal/port/cache"
	"github.com/loomworks/agentmesh/internal/resilience"
)

// Mode selects how a request is delivered. The set is closed: SendRequest
// rejects anything outside the three declared modes.
type Mode string

const (
	// ModeSynchronous blocks until the target agent answers.
	ModeSynchronous Mode = "synchronous"
	// ModeAsynchronous acknowledges immediately and delivers the result to
	// the caller's callback URL when the invocation completes.
	ModeAsynchronous Mode = "asynchronous"
	// ModeStreaming delivers incremental results over a WebSocket session.
	ModeStreaming Mode = "streaming"
)

// Sentinel errors surfaced by the manager.
var (
	// ErrUseStreaming means the caller asked for streaming through the
	// request/response API; streaming goes through SendStreamingRequest.
	ErrUseStreaming = errors.New("streaming mode requires SendStreamingRequest")
	// ErrCallbackRequired means an asynchronous request carried no callback URL.
	ErrCallbackRequired = errors.New("asynchronous mode requires a callback url")
	// ErrUnknownMode means the request mode is outside the declared set.
	ErrUnknownMode = errors.New("unknown communication mode")
	// ErrAuthentication wraps a -32002 answer from the target agent.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization wraps a -32003 answer from the target agent.
	ErrAuthorization = errors.New("authorization failed")
	// ErrRateLimited wraps a -32004 answer from the target agent.
	ErrRateLimited = errors.New("rate limited by target agent")
	// ErrTooManyConnections means the WebSocket connection cap is reached.
	ErrTooManyConnections = errors.New("connection limit reached")
)

// Config controls communication behavior.
type Config struct {
	// Timeout bounds each synchronous HTTP call.
	Timeout time.Duration
	// MaxConnections caps concurrently open WebSocket connections.
	MaxConnections int
	// AutoReconnect redials a dropped WebSocket on the next streaming request.
	AutoReconnect bool
	// KeepAliveInterval drives ping frames; connections idle for twice this
	// interval are reaped by the sweeper.
	KeepAliveInterval time.Duration
	// CapabilityCacheTTL is how long fetched capability lists stay cached.
	CapabilityCacheTTL time.Duration
	// BreakerMaxFailures and BreakerTimeout configure the per-agent circuit
	// breaker around synchronous calls.
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// DefaultConfig returns the communication defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		MaxConnections:     100,
		AutoReconnect:      true,
		KeepAliveInterval:  30 * time.Second,
		CapabilityCacheTTL: 5 * time.Minute,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
	}
}

// Request is one outbound invocation.
type Request struct {
	Target      a2a.AgentCard
	Invoke      a2a.Request
	Mode        Mode
	CallbackURL string
}

// Manager sends capability invocations to remote agents. All methods are safe
// for concurrent use. Locks are never held across a network call.
type Manager struct {
	cfg      Config
	client   *http.Client
	wsClient *http.Client // no timeout: would kill long-lived sockets
	log      *slog.Logger
	metrics  *amotel.Metrics
	caps     cache.Cache // may be nil
	now      func() time.Time

	mu       sync.RWMutex
	conns    map[string]*wsConn
	breakers map[string]*resilience.Breaker
}

// NewManager creates a communication manager. Zero config fields fall back to
// DefaultConfig values. capsCache and metrics may be nil.
func NewManager(cfg Config, log *slog.Logger, metrics *amotel.Metrics, capsCache cache.Cache) *Manager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.CapabilityCacheTTL <= 0 {
		cfg.CapabilityCacheTTL = def.CapabilityCacheTTL
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	transport := amotel.Transport(nil)
	return &Manager{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		wsClient: &http.Client{Transport: transport},
		log:      log,
		metrics:  metrics,
		caps:     capsCache,
		now:      time.Now,
		conns:    make(map[string]*wsConn),
		breakers: make(map[string]*resilience.Breaker),
	}
}

// SendRequest dispatches one invocation according to its mode. Streaming
// requests are rejected here so callers cannot mistake a single response for
// a stream.
func (m *Manager) SendRequest(ctx context.Context, req Request) (*a2a.Response, error) {
	switch req.Mode {
	case ModeSynchronous:
		return m.sendSynchronous(ctx, req.Target, req.Invoke)
	case ModeAsynchronous:
		return m.sendAsynchronous(ctx, req)
	case ModeStreaming:
		return nil, ErrUseStreaming
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

// InvokeCapability sends a synchronous invocation of one capability.
func (m *Manager) InvokeCapability(ctx context.Context, target a2a.AgentCard, capabilityID string, input json.RawMessage) (*a2a.Response, error) {
	return m.sendSynchronous(ctx, target, a2a.Request{CapabilityID: capabilityID, Input: input})
}

func (m *Manager) sendSynchronous(ctx context.Context, target a2a.AgentCard, invoke a2a.Request) (*a2a.Response, error) {
	if invoke.Streaming {
		return nil, ErrUseStreaming
	}

	ctx, span := amotel.StartInvokeSpan(ctx, target.ID, invoke.CapabilityID)
	defer span.End()

	m.metrics.AddInvocation(ctx, target.ID)
	start := m.now()

	// Protocol-level errors mean the agent answered; only transport
	// failures count against its breaker.
	var out *a2a.Response
	var protocolErr error
	err := m.breaker(target.ID).Execute(func() error {
		resp, callErr := m.invokeHTTP(ctx, target, invoke)
		var rpcErr *a2a.Error
		if errors.As(callErr, &rpcErr) {
			protocolErr = callErr
			return nil
		}
		out = resp
		return callErr
	})
	if err == nil {
		err = protocolErr
	}

	m.metrics.RecordInvokeDuration(ctx, m.now().Sub(start).Seconds())
	if err != nil {
		m.metrics.AddInvocationError(ctx, target.ID)
		return nil, err
	}
	return out, nil
}

func (m *Manager) invokeHTTP(ctx context.Context, target a2a.AgentCard, invoke a2a.Request) (*a2a.Response, error) {
	envelope, err := a2a.NewRequest(a2a.NewRequestID(), a2a.MethodInvokeCapability, invoke)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(target.Connection.BaseURL, "v1/invoke"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := setAuthHeader(httpReq.Header, target); err != nil {
		return nil, err
	}

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("agent %s: unexpected status %s", target.ID, httpResp.Status)
	}

	var reply a2a.Message
	if err := json.NewDecoder(httpResp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := reply.Validate(); err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, rpcError(reply.Error)
	}

	var resp a2a.Response
	if err := json.Unmarshal(reply.Result, &resp); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &resp, nil
}

// sendAsynchronous acknowledges immediately and delivers the real result to
// the callback URL from a background goroutine. The ack carries the request
// id under metadata so the caller can correlate the callback.
func (m *Manager) sendAsynchronous(ctx context.Context, req Request) (*a2a.Response, error) {
	if req.CallbackURL == "" {
		return nil, ErrCallbackRequired
	}

	requestID := a2a.NewRequestID()

	go m.deliverCallback(requestID, req)

	return &a2a.Response{
		Metadata: map[string]any{
			"request_id": requestID,
			"status":     "accepted",
		},
	}, nil
}

func (m *Manager) deliverCallback(requestID string, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	rawID, _ := json.Marshal(requestID)

	var envelope a2a.Message
	resp, err := m.sendSynchronous(ctx, req.Target, req.Invoke)
	switch {
	case err == nil:
		envelope, err = a2a.NewResponse(rawID, resp)
		if err != nil {
			m.log.Error("async callback marshal failed", "request_id", requestID, "error", err)
			return
		}
	default:
		var rpcErr *a2a.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = a2a.CapabilityError(err.Error())
		}
		envelope = a2a.NewErrorResponse(rawID, rpcErr)
	}

	if err := m.postCallback(ctx, req.CallbackURL, envelope); err != nil {
		m.log.Error("async callback delivery failed",
			"request_id", requestID, "callback_url", req.CallbackURL, "error", err)
		return
	}
	m.log.Debug("async callback delivered", "request_id", requestID, "agent", req.Target.ID)
}

func (m *Manager) postCallback(ctx context.Context, callbackURL string, envelope a2a.Message) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return fmt.Errorf("callback: unexpected status %s", httpResp.Status)
	}
	return nil
}

// PingAgent checks target liveness via its ping endpoint.
func (m *Manager) PingAgent(ctx context.Context, target a2a.AgentCard) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(target.Connection.BaseURL, "v1/ping"), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if err := setAuthHeader(httpReq.Header, target); err != nil {
		return false, err
	}

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer func() { _ = httpResp.Body.Close() }()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	return httpResp.StatusCode >= 200 && httpResp.StatusCode <= 299, nil
}

// GetAgentCapabilities fetches the target's current capability list, using
// the capability cache when one is configured.
func (m *Manager) GetAgentCapabilities(ctx context.Context, target a2a.AgentCard) ([]a2a.Capability, error) {
	// the separator must stay within the JetStream KV key charset
	// ([-/_=.a-zA-Z0-9]) or the shared L2 tier rejects every key
	cacheKey := "caps." + target.ID

	if m.caps != nil {
		if data, ok, err := m.caps.Get(ctx, cacheKey); err == nil && ok {
			var caps []a2a.Capability
			if err := json.Unmarshal(data, &caps); err == nil {
				m.metrics.AddCacheHit(ctx)
				return caps, nil
			}
		}
		m.metrics.AddCacheMiss(ctx)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(target.Connection.BaseURL, "v1/capabilities"), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := setAuthHeader(httpReq.Header, target); err != nil {
		return nil, err
	}

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("agent %s: unexpected status %s", target.ID, httpResp.Status)
	}

	var caps []a2a.Capability
	if err := json.NewDecoder(httpResp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}

	if m.caps != nil {
		if data, err := json.Marshal(caps); err == nil {
			_ = m.caps.Set(ctx, cacheKey, data, m.cfg.CapabilityCacheTTL)
		}
	}
	return caps, nil
}

// breaker returns the per-agent circuit breaker, creating it on first use.
func (m *Manager) breaker(agentID string) *resilience.Breaker {
	m.mu.RLock()
	b, ok := m.breakers[agentID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[agentID]; ok {
		return b
	}
	b = resilience.NewBreaker(m.cfg.BreakerMaxFailures, m.cfg.BreakerTimeout)
	m.breakers[agentID] = b
	return b
}

// rpcError maps an agent's JSON-RPC error object onto the manager's sentinel
// errors where a sentinel exists, keeping the original error in the chain.
func rpcError(e *a2a.Error) error {
	switch e.Code {
	case a2a.CodeAuthentication:
		return fmt.Errorf("%w: %w", ErrAuthentication, e)
	case a2a.CodeAuthorization:
		return fmt.Errorf("%w: %w", ErrAuthorization, e)
	case a2a.CodeRateLimited:
		return fmt.Errorf("%w: %w", ErrRateLimited, e)
	default:
		return e
	}
}

// setAuthHeader applies the target's declared auth scheme. Unknown schemes
// are an error rather than a silent unauthenticated call.
func setAuthHeader(h http.Header, target a2a.AgentCard) error {
	auth := target.Connection.Auth
	if auth == nil {
		return nil
	}
	switch auth.Type {
	case a2a.AuthBearer:
		if token, ok := auth.Credentials["token"]; ok {
			h.Set("Authorization", "Bearer "+token)
		}
		return nil
	case a2a.AuthAPIKey:
		if key, ok := auth.Credentials["api_key"]; ok {
			h.Set("X-API-Key", key)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", a2a.ErrUnsupportedAuth, auth.Type)
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
