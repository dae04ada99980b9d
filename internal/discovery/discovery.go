// Package discovery implements the federated agent discovery client: it
// queries one or more discovery endpoints, merges and filters their answers,
// and maintains a local TTL-bounded cache of agent cards.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomworks/agentmesh/internal/a2a"
	amotel "github.com/loomworks/agentmesh/internal/adapter/otel"
	"github.com/loomworks/agentmesh/internal/domain"
)

// Config controls discovery behavior.
type Config struct {
	// Timeout bounds each HTTP call to a discovery endpoint.
	Timeout time.Duration
	// CacheTTL is how long a cached agent card stays valid.
	CacheTTL time.Duration
	// MaxCacheSize caps the number of cached agent cards.
	MaxCacheSize int
	// Endpoints are the discovery registries to federate across.
	Endpoints []string
}

// DefaultConfig returns the discovery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		CacheTTL:     5 * time.Minute,
		MaxCacheSize: 1000,
	}
}

// cachedAgent is one cache slot. An entry is valid iff now-cachedAt < CacheTTL.
type cachedAgent struct {
	card     a2a.AgentCard
	cachedAt time.Time
	lastSeen time.Time
}

// Service is the discovery client. All methods are safe for concurrent use.
// The cache lock is never held across a network call.
type Service struct {
	client  *http.Client
	cfg     Config
	log     *slog.Logger
	metrics *amotel.Metrics
	now     func() time.Time // for testing

	mu    sync.RWMutex
	cache map[string]cachedAgent
}

// NewService creates a discovery client. Zero config fields fall back to
// DefaultConfig values. metrics may be nil.
func NewService(cfg Config, log *slog.Logger, metrics *amotel.Metrics) *Service {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = def.MaxCacheSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: amotel.Transport(nil),
		},
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		cache:   make(map[string]cachedAgent),
	}
}

// DiscoverAgents queries every configured endpoint, caches every returned
// card, then applies local post-filtering and the limit. A failing endpoint
// is logged and skipped; one unreachable endpoint never fails the whole call.
func (s *Service) DiscoverAgents(ctx context.Context, req a2a.DiscoveryRequest) ([]a2a.AgentCard, error) {
	ctx, span := amotel.StartDiscoverSpan(ctx, len(s.cfg.Endpoints))
	defer span.End()

	results := make([][]a2a.AgentCard, len(s.cfg.Endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range s.cfg.Endpoints {
		g.Go(func() error {
			s.metrics.AddDiscoveryRequest(gctx, endpoint)
			resp, err := s.queryEndpoint(gctx, endpoint, req)
			if err != nil {
				s.log.Warn("discovery endpoint failed", "endpoint", endpoint, "error", err)
				return nil
			}
			results[i] = resp.Agents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []a2a.AgentCard
	for _, agents := range results {
		all = append(all, agents...)
	}

	s.cacheAgents(all)

	return FilterAgents(all, req), nil
}

// GetAgent returns the card for the given agent id, from the cache when a
// valid entry exists, otherwise via a fresh exact-id discovery. Returns
// domain.ErrNotFound when no endpoint knows the agent.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*a2a.AgentCard, error) {
	s.mu.RLock()
	entry, ok := s.cache[agentID]
	s.mu.RUnlock()

	if ok && s.valid(entry.cachedAt) {
		s.metrics.AddCacheHit(ctx)
		card := entry.card
		return &card, nil
	}
	s.metrics.AddCacheMiss(ctx)

	agents, err := s.DiscoverAgents(ctx, a2a.DiscoveryRequest{
		AgentID: agentID,
		Query:   agentID, // for registries that only understand keyword search
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		if agent.ID == agentID {
			return &agent, nil
		}
	}
	return nil, fmt.Errorf("agent %q: %w", agentID, domain.ErrNotFound)
}

// RegisterAgent caches the card locally, then federates the registration to
// every endpoint best-effort: a failed registration is logged, not returned.
func (s *Service) RegisterAgent(ctx context.Context, card a2a.AgentCard) {
	s.cacheAgents([]a2a.AgentCard{card})

	for _, endpoint := range s.cfg.Endpoints {
		if err := s.registerWith(ctx, endpoint, card); err != nil {
			s.log.Warn("agent registration failed", "endpoint", endpoint, "agent", card.ID, "error", err)
		}
	}
}

// UnregisterAgent removes the agent from the local cache, then federates the
// unregistration to every endpoint best-effort.
func (s *Service) UnregisterAgent(ctx context.Context, agentID string) {
	s.mu.Lock()
	delete(s.cache, agentID)
	s.mu.Unlock()

	for _, endpoint := range s.cfg.Endpoints {
		if err := s.unregisterFrom(ctx, endpoint, agentID); err != nil {
			s.log.Warn("agent unregistration failed", "endpoint", endpoint, "agent", agentID, "error", err)
		}
	}
}

// CachedAgents returns all currently valid cached cards.
func (s *Service) CachedAgents() []a2a.AgentCard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]a2a.AgentCard, 0, len(s.cache))
	for _, entry := range s.cache {
		if s.valid(entry.cachedAt) {
			out = append(out, entry.card)
		}
	}
	return out
}

// CleanupCache removes expired entries, then evicts the oldest entries by
// insertion time until the cache is back at capacity.
func (s *Service) CleanupCache() {
	now := s.now()
	evicted := int64(0)

	s.mu.Lock()
	for id, entry := range s.cache {
		if now.Sub(entry.cachedAt) >= s.cfg.CacheTTL {
			delete(s.cache, id)
			evicted++
		}
	}

	if over := len(s.cache) - s.cfg.MaxCacheSize; over > 0 {
		type aged struct {
			id       string
			cachedAt time.Time
		}
		entries := make([]aged, 0, len(s.cache))
		for id, entry := range s.cache {
			entries = append(entries, aged{id, entry.cachedAt})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].cachedAt.Before(entries[j].cachedAt)
		})
		for _, e := range entries[:over] {
			delete(s.cache, e.id)
			evicted++
		}
	}
	s.mu.Unlock()

	s.metrics.AddCacheEvictions(context.Background(), evicted)
	if evicted > 0 {
		s.log.Debug("agent cache swept", "evicted", evicted)
	}
}

// RunSweeper evicts expired cache entries on the given interval until ctx is
// cancelled. Meant to run in its own goroutine.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupCache()
		}
	}
}

// FilterAgents applies the discovery filter contract: when capabilities are
// requested, an agent must have ALL of them; when tags are requested, an
// agent matches when ANY of its capabilities carries ANY requested tag.
// AgentID keeps exact id matches only. The limit truncates preserving order.
func FilterAgents(agents []a2a.AgentCard, req a2a.DiscoveryRequest) []a2a.AgentCard {
	filtered := agents

	if req.AgentID != "" {
		filtered = keep(filtered, func(agent a2a.AgentCard) bool {
			return agent.ID == req.AgentID
		})
	}

	if len(req.Capabilities) > 0 {
		filtered = keep(filtered, func(agent a2a.AgentCard) bool {
			for _, capID := range req.Capabilities {
				if !agent.HasCapability(capID) {
					return false
				}
			}
			return true
		})
	}

	if len(req.Tags) > 0 {
		filtered = keep(filtered, func(agent a2a.AgentCard) bool {
			for _, tag := range req.Tags {
				if len(agent.CapabilitiesByTag(tag)) > 0 {
					return true
				}
			}
			return false
		})
	}

	if req.Limit > 0 && len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered
}

func keep(agents []a2a.AgentCard, pred func(a2a.AgentCard) bool) []a2a.AgentCard {
	out := agents[:0:0]
	for _, agent := range agents {
		if pred(agent) {
			out = append(out, agent)
		}
	}
	return out
}

func (s *Service) valid(cachedAt time.Time) bool {
	return s.now().Sub(cachedAt) < s.cfg.CacheTTL
}

func (s *Service) cacheAgents(agents []a2a.AgentCard) {
	if len(agents) == 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, agent := range agents {
		s.cache[agent.ID] = cachedAgent{card: agent, cachedAt: now, lastSeen: now}
	}
}

func (s *Service) queryEndpoint(ctx context.Context, endpoint string, req a2a.DiscoveryRequest) (*a2a.DiscoveryResponse, error) {
	var resp a2a.DiscoveryResponse
	if err := s.doJSON(ctx, http.MethodPost, joinURL(endpoint, "v1/discover"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Service) registerWith(ctx context.Context, endpoint string, card a2a.AgentCard) error {
	return s.doJSON(ctx, http.MethodPost, joinURL(endpoint, "v1/register"), card, nil)
}

func (s *Service) unregisterFrom(ctx context.Context, endpoint, agentID string) error {
	return s.doJSON(ctx, http.MethodDelete, joinURL(endpoint, "v1/unregister/"+url.PathEscape(agentID)), nil, nil)
}

// doJSON issues one JSON request and decodes the response into out when
// non-nil. Any non-2xx status is an error.
func (s *Service) doJSON(ctx context.Context, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %s", method, rawURL, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
