package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentmesh.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTMESH_PORT")

	setString(&cfg.Agent.ID, "AGENTMESH_AGENT_ID")
	setString(&cfg.Agent.Name, "AGENTMESH_AGENT_NAME")
	setString(&cfg.Agent.Version, "AGENTMESH_AGENT_VERSION")
	setString(&cfg.Agent.Description, "AGENTMESH_AGENT_DESCRIPTION")
	setString(&cfg.Agent.BaseURL, "AGENTMESH_BASE_URL")
	setBool(&cfg.Agent.AutoRegister, "AGENTMESH_AUTO_REGISTER")

	setStrings(&cfg.Discovery.Endpoints, "AGENTMESH_DISCOVERY_ENDPOINTS")
	setDuration(&cfg.Discovery.Timeout, "AGENTMESH_DISCOVERY_TIMEOUT")
	setDuration(&cfg.Discovery.CacheTTL, "AGENTMESH_DISCOVERY_CACHE_TTL")
	setInt(&cfg.Discovery.MaxCacheSize, "AGENTMESH_DISCOVERY_MAX_CACHE_SIZE")
	setDuration(&cfg.Discovery.SweepInterval, "AGENTMESH_DISCOVERY_SWEEP_INTERVAL")

	setDuration(&cfg.Comms.Timeout, "AGENTMESH_COMMS_TIMEOUT")
	setInt(&cfg.Comms.MaxConnections, "AGENTMESH_COMMS_MAX_CONNECTIONS")
	setBool(&cfg.Comms.AutoReconnect, "AGENTMESH_COMMS_AUTO_RECONNECT")
	setDuration(&cfg.Comms.KeepAliveInterval, "AGENTMESH_COMMS_KEEP_ALIVE")
	setDuration(&cfg.Comms.CapabilityCacheTTL, "AGENTMESH_COMMS_CAPS_TTL")
	setDuration(&cfg.Comms.SweepInterval, "AGENTMESH_COMMS_SWEEP_INTERVAL")

	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTMESH_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTMESH_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AGENTMESH_CACHE_L2_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&cfg.Logging.Level, "AGENTMESH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTMESH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTMESH_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "AGENTMESH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTMESH_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTMESH_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTMESH_RATE_BURST")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Agent.BaseURL == "" {
		return errors.New("agent.base_url is required")
	}
	if cfg.Discovery.MaxCacheSize < 1 {
		return errors.New("discovery.max_cache_size must be >= 1")
	}
	if cfg.Discovery.CacheTTL <= 0 {
		return errors.New("discovery.cache_ttl must be positive")
	}
	if cfg.Comms.MaxConnections < 1 {
		return errors.New("comms.max_connections must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings splits a comma-separated env value.
func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
