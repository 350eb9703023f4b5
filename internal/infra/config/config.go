package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stockripper/internal/domain"
)

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// TimeoutsConfig bounds every blocking step of the provider and peer protocols.
// Each phase of connection establishment carries its own budget so that a
// misbehaving provider can never stall agent startup past the largest of them.
type TimeoutsConfig struct {
	Connect   time.Duration `yaml:"connect"`
	Handshake time.Duration `yaml:"handshake"`
	Catalog   time.Duration `yaml:"catalog"`
	Call      time.Duration `yaml:"call"`
	PeerCall  time.Duration `yaml:"peer_call"`
}

// Timeout defaults.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultCatalogTimeout   = 5 * time.Second
	DefaultCallTimeout      = 30 * time.Second
	DefaultPeerCallTimeout  = 30 * time.Second
)

// withDefaults fills zero-valued timeouts.
func (t TimeoutsConfig) withDefaults() TimeoutsConfig {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.Handshake <= 0 {
		t.Handshake = DefaultHandshakeTimeout
	}
	if t.Catalog <= 0 {
		t.Catalog = DefaultCatalogTimeout
	}
	if t.Call <= 0 {
		t.Call = DefaultCallTimeout
	}
	if t.PeerCall <= 0 {
		t.PeerCall = DefaultPeerCallTimeout
	}
	return t
}

// RateLimitConfig bounds inbound task submission.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	URL         string `yaml:"url"`  // externally visible base URL
	Addr        string `yaml:"addr"` // listen address, e.g. ":8001"

	// DefaultRecipient is the fallback address for notification skills.
	DefaultRecipient string `yaml:"default_recipient,omitempty"`
}

// Config is the top-level application configuration. It is constructed once at
// startup and passed into the pool, peer client, and processor constructors.
type Config struct {
	Agent     AgentConfig           `yaml:"agent"`
	Providers []domain.ProviderSpec `yaml:"providers"`
	Peers     map[string]string     `yaml:"peers"` // peer name -> base URL
	Timeouts  TimeoutsConfig        `yaml:"timeouts"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Logger    LoggerConfig          `yaml:"logger"`
	Tracer    TracerConfig          `yaml:"tracer"`
}

// Load reads configuration from a YAML file, overlays variables from an
// optional .env file, then applies STOCKRIPPER_* environment overrides.
// The result is validated before being returned.
func Load(path string) (*Config, error) {
	// .env is optional; ignore absence but surface parse errors.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(".env"); statErr == nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapOp("read config", domain.ErrConfigLoad)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override select keys without
// editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STOCKRIPPER_AGENT_NAME"); v != "" {
		c.Agent.Name = v
	}
	if v := os.Getenv("STOCKRIPPER_AGENT_URL"); v != "" {
		c.Agent.URL = v
	}
	if v := os.Getenv("STOCKRIPPER_ADDR"); v != "" {
		c.Agent.Addr = v
	}
	if v := os.Getenv("STOCKRIPPER_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("STOCKRIPPER_LOG_FORMAT"); v != "" {
		c.Logger.Format = v
	}
	if v := os.Getenv("STOCKRIPPER_TRACING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracer.Enabled = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Version == "" {
		c.Agent.Version = "1.0.0"
	}
	if c.Agent.Addr == "" {
		c.Agent.Addr = ":8000"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	c.Timeouts = c.Timeouts.withDefaults()
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			c.RateLimit.RPS = 10
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = 20
		}
	}
}

// ProviderMap returns providers keyed by name. Names are unique after Validate.
func (c *Config) ProviderMap() map[string]domain.ProviderSpec {
	m := make(map[string]domain.ProviderSpec, len(c.Providers))
	for _, p := range c.Providers {
		m[p.Name] = p
	}
	return m
}
