// Package config loads pulse-engine's YAML configuration and layers
// environment-variable overrides on top: YAML defaults plus Diff() for
// hot-reload change logging, with an env overlay for deployment knobs
// (bus/identity store URLs, rate limits, shard count).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration: HTTP/WS server, pipeline
// shard layout, and the external systems the pipeline talks to.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Identity IdentityConfig `yaml:"identity"`
	Bus      BusConfig      `yaml:"bus"`
	Outcome  OutcomeConfig  `yaml:"outcome"`
}

// ServerConfig controls the HTTP/WS listen surface.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	TLSCertPath     string        `yaml:"tls_cert_path"`
	TLSKeyPath      string        `yaml:"tls_key_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	AuthToken       string        `yaml:"auth_token"`
	MaxConnections  int           `yaml:"max_connections"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	TenantRateLimit float64       `yaml:"tenant_rate_limit"`
	TenantRateBurst int           `yaml:"tenant_rate_burst"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// PipelineConfig controls the shard worker pool and session lifecycle.
type PipelineConfig struct {
	Shards        int           `yaml:"shards"`
	MaxQueueDepth int           `yaml:"max_queue_depth"`
	SessionIdle   time.Duration `yaml:"session_idle"`
	EarlySessionWindow time.Duration `yaml:"early_session_window"`
	InterventionCooldown time.Duration `yaml:"intervention_cooldown"`
}

// IdentityConfig points the identity resolver at its backing store.
type IdentityConfig struct {
	StoreURL string `yaml:"store_url"`
}

// BusConfig points shard workers and internal/ws at the internal bus.
type BusConfig struct {
	URL string `yaml:"url"`
}

// OutcomeConfig controls the dual-write outcome recorder's sinks.
type OutcomeConfig struct {
	HotDir string `yaml:"hot_dir"`
	ColdBucket string `yaml:"cold_bucket"`
}

// Load reads path as YAML over the defaults, then applies env overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadOrDefault loads path if it exists, or returns the default config (with
// env overrides applied) if it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			MaxConnections:   2000,
			SnapshotInterval: 5 * time.Second,
			TenantRateLimit:  100,
			TenantRateBurst:  200,
			ShutdownGrace:    5 * time.Second,
		},
		Pipeline: PipelineConfig{
			Shards:               32,
			MaxQueueDepth:        1000,
			SessionIdle:          30 * time.Minute,
			EarlySessionWindow:   15 * time.Second,
			InterventionCooldown: 60 * time.Second,
		},
		Identity: IdentityConfig{StoreURL: "localhost:6379"},
		Bus:      BusConfig{URL: "nats://localhost:4222"},
		Outcome: OutcomeConfig{
			HotDir:     filepath.Join(defaultStateDir(), "pulse-engine", "outcomes"),
			ColdBucket: filepath.Join(defaultStateDir(), "pulse-engine", "outcomes-log"),
		},
	}
}

// env overlay keys.
const (
	envBusURL        = "BUS_URL"
	envIdentityURL   = "IDENTITY_STORE_URL"
	envOutcomeBucket = "OUTCOME_LOG_BUCKET"
	envTenantRate    = "TENANT_RATE_LIMIT"
	envSessionIdleMS = "SESSION_IDLE_MS"
	envShards        = "SHARDS"
	envMaxQueue      = "MAX_SESSION_QUEUE"
	envListenAddr    = "LISTEN_ADDR"
	envTLSCertPath   = "TLS_CERT_PATH"
)

// applyEnvOverrides layers process environment variables over cfg.
// SHARDS is read here but is not hot-reloadable — changing it requires a
// process restart, since the shard pool's channel slice is sized once at
// startup.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envBusURL); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv(envIdentityURL); v != "" {
		cfg.Identity.StoreURL = v
	}
	if v := os.Getenv(envOutcomeBucket); v != "" {
		cfg.Outcome.ColdBucket = v
	}
	if v := os.Getenv(envTenantRate); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.TenantRateLimit = f
		}
	}
	if v := os.Getenv(envSessionIdleMS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.SessionIdle = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(envShards); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.Shards = n
		}
	}
	if v := os.Getenv(envMaxQueue); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.MaxQueueDepth = n
		}
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(envTLSCertPath); v != "" {
		cfg.Server.TLSCertPath = v
	}
}

// Diff compares two configs and returns human-readable descriptions of what
// changed, for the reload-time log line.
func Diff(old, new *Config) []string {
	var changes []string
	if old.Server.MaxConnections != new.Server.MaxConnections {
		changes = append(changes, fmt.Sprintf("server.max_connections: %d → %d", old.Server.MaxConnections, new.Server.MaxConnections))
	}
	if old.Server.TenantRateLimit != new.Server.TenantRateLimit {
		changes = append(changes, fmt.Sprintf("server.tenant_rate_limit: %.1f → %.1f", old.Server.TenantRateLimit, new.Server.TenantRateLimit))
	}
	if old.Pipeline.SessionIdle != new.Pipeline.SessionIdle {
		changes = append(changes, fmt.Sprintf("pipeline.session_idle: %s → %s", old.Pipeline.SessionIdle, new.Pipeline.SessionIdle))
	}
	if old.Pipeline.InterventionCooldown != new.Pipeline.InterventionCooldown {
		changes = append(changes, fmt.Sprintf("pipeline.intervention_cooldown: %s → %s", old.Pipeline.InterventionCooldown, new.Pipeline.InterventionCooldown))
	}
	if old.Pipeline.Shards != new.Pipeline.Shards {
		changes = append(changes, fmt.Sprintf("pipeline.shards: %d → %d (restart required)", old.Pipeline.Shards, new.Pipeline.Shards))
	}
	if old.Bus.URL != new.Bus.URL {
		changes = append(changes, fmt.Sprintf("bus.url: %s → %s", old.Bus.URL, new.Bus.URL))
	}
	return changes
}

func defaultStateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state")
}

func defaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "pulse-engine", "config.yaml")
}
