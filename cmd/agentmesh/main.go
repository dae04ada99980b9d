package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	amhttp "github.com/loomworks/agentmesh/internal/adapter/http"
	amnats "github.com/loomworks/agentmesh/internal/adapter/nats"
	"github.com/loomworks/agentmesh/internal/adapter/natskv"
	amotel "github.com/loomworks/agentmesh/internal/adapter/otel"
	"github.com/loomworks/agentmesh/internal/adapter/ristretto"
	"github.com/loomworks/agentmesh/internal/adapter/tiered"
	"github.com/loomworks/agentmesh/internal/adapter/ws"
	"github.com/loomworks/agentmesh/internal/comms"
	"github.com/loomworks/agentmesh/internal/config"
	"github.com/loomworks/agentmesh/internal/discovery"
	"github.com/loomworks/agentmesh/internal/logger"
	"github.com/loomworks/agentmesh/internal/middleware"
	"github.com/loomworks/agentmesh/internal/port/cache"
	"github.com/loomworks/agentmesh/internal/port/eventbus"
	"github.com/loomworks/agentmesh/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"agent", cfg.Agent.Name,
		"discovery_endpoints", len(cfg.Discovery.Endpoints),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := amotel.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := amotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// NATS is optional: without it there is no event bus and the capability
	// cache stays in-process only.
	var bus eventbus.Publisher
	var capsCache cache.Cache

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	capsCache = l1

	if cfg.NATS.URL != "" {
		natsBus, err := amnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsBus.Close() }()
		bus = natsBus

		kv, err := natsBus.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		capsCache = tiered.New(l1, natskv.New(kv), cfg.Comms.CapabilityCacheTTL)
	}

	// --- Protocol stack ---
	disc := discovery.NewService(discovery.Config{
		Timeout:      cfg.Discovery.Timeout,
		CacheTTL:     cfg.Discovery.CacheTTL,
		MaxCacheSize: cfg.Discovery.MaxCacheSize,
		Endpoints:    cfg.Discovery.Endpoints,
	}, log, metrics)

	mgr := comms.NewManager(comms.Config{
		Timeout:            cfg.Comms.Timeout,
		MaxConnections:     cfg.Comms.MaxConnections,
		AutoReconnect:      cfg.Comms.AutoReconnect,
		KeepAliveInterval:  cfg.Comms.KeepAliveInterval,
		CapabilityCacheTTL: cfg.Comms.CapabilityCacheTTL,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Breaker.Timeout,
	}, log, metrics, capsCache)

	provider := newEchoProvider()

	coord, err := service.New(ctx, service.Config{
		AgentID:      cfg.Agent.ID,
		AgentName:    cfg.Agent.Name,
		AgentVersion: cfg.Agent.Version,
		Description:  cfg.Agent.Description,
		BaseURL:      cfg.Agent.BaseURL,
		AutoRegister: cfg.Agent.AutoRegister,
	}, service.Deps{
		Discovery: disc,
		Comms:     mgr,
		Provider:  provider,
		Bus:       bus,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	// Background sweepers for expired cache entries and idle connections.
	go disc.RunSweeper(ctx, cfg.Discovery.SweepInterval)
	go mgr.RunSweeper(ctx, cfg.Comms.SweepInterval)

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(amotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)

	r.Get("/health", healthHandler(cfg))

	handlers := amhttp.NewHandlers(coord, provider, log)
	amhttp.MountRoutes(r, handlers, ws.NewHandler(provider, log))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// no ReadTimeout/WriteTimeout: the streaming endpoint holds
		// connections open indefinitely
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// withdraw from the mesh before refusing connections
	coord.Shutdown(shutdownCtx)

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health and effective wiring.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status    string `json:"status"`
		Agent     string `json:"agent"`
		Discovery int    `json:"discovery_endpoints"`
		NATS      bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:    "ok",
			Agent:     cfg.Agent.Name,
			Discovery: len(cfg.Discovery.Endpoints),
			NATS:      cfg.NATS.URL != "",
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
