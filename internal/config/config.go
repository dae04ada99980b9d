// Package config provides hierarchical configuration loading for agentmesh.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the agentmesh service.
type Config struct {
	Server    Server    `yaml:"server"`
	Agent     Agent     `yaml:"agent"`
	Discovery Discovery `yaml:"discovery"`
	Comms     Comms     `yaml:"comms"`
	Cache     Cache     `yaml:"cache"`
	NATS      NATS      `yaml:"nats"`
	Telemetry Telemetry `yaml:"telemetry"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Rate      Rate      `yaml:"rate"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Agent identifies this agent on the mesh.
type Agent struct {
	ID          string `yaml:"id"`   // generated when empty
	Name        string `yaml:"name"` // defaults to the id
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// BaseURL is the externally reachable root of this agent's endpoints.
	BaseURL string `yaml:"base_url"`
	// AutoRegister announces the agent to discovery on startup and withdraws
	// it on shutdown.
	AutoRegister bool `yaml:"auto_register"`
}

// Discovery holds federated discovery configuration.
type Discovery struct {
	Endpoints     []string      `yaml:"endpoints"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MaxCacheSize  int           `yaml:"max_cache_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Comms holds communication manager configuration.
type Comms struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxConnections     int           `yaml:"max_connections"`
	AutoReconnect      bool          `yaml:"auto_reconnect"`
	KeepAliveInterval  time.Duration `yaml:"keep_alive_interval"`
	CapabilityCacheTTL time.Duration `yaml:"capability_cache_ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// Cache holds the capability cache configuration. With a NATS URL configured
// the cache is tiered: ristretto L1 plus a shared NATS KV L2 bucket.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the event
// bus and the L2 cache.
type NATS struct {
	URL string `yaml:"url"`
}

// Telemetry holds OpenTelemetry export configuration. An empty endpoint
// disables export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for outbound invocations.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds inbound rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "8080",
		},
		Agent: Agent{
			Version:      "0.1.0",
			BaseURL:      "http://localhost:8080",
			AutoRegister: true,
		},
		Discovery: Discovery{
			Timeout:       10 * time.Second,
			CacheTTL:      5 * time.Minute,
			MaxCacheSize:  1000,
			SweepInterval: time.Minute,
		},
		Comms: Comms{
			Timeout:            30 * time.Second,
			MaxConnections:     100,
			AutoReconnect:      true,
			KeepAliveInterval:  30 * time.Second,
			CapabilityCacheTTL: 5 * time.Minute,
			SweepInterval:      time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
			L2Bucket:    "agentmesh-caps",
			L2TTL:       5 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "agentmesh",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
		},
	}
}
