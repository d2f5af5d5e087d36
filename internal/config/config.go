// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Database  DatabaseConfig        `yaml:"database"`
	Auth      AuthConfig            `yaml:"auth"`
	Providers ProviderKeys          `yaml:"providers"`
	Limits    LimitsConfig          `yaml:"limits"`
	Session   SessionConfig         `yaml:"session"`
	Images    ImagesConfig          `yaml:"images"`
	Tower     TowerConfig           `yaml:"tower"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
	Catalog   map[string]KindTable  `yaml:"catalog"` // channel -> kind -> model config
}

// KindTable maps a model kind to its catalog entry for one channel.
type KindTable map[string]CatalogEntry

// CatalogEntry is one (provider, model) pair in the config file.
type CatalogEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AppKey        string   `yaml:"app_key"`        // operator secret
	SigningSecret string   `yaml:"signing_secret"` // HMAC secret for bearer tokens
	AppleIssuer   string   `yaml:"apple_issuer"`   // defaults to https://appleid.apple.com
	AppleBundles  []string `yaml:"apple_bundles"`  // allowed audience bundle ids
}

// ProviderKeys holds server-default upstream credentials.
type ProviderKeys struct {
	OpenAI     string `yaml:"openai_api_key"`
	Anthropic  string `yaml:"anthropic_api_key"`
	XAI        string `yaml:"xai_api_key"`
	Replicate  string `yaml:"replicate_api_key"`
	ElevenLabs string `yaml:"elevenlabs_api_key"`
}

// Key returns the default key for a provider name, or "".
func (p ProviderKeys) Key(provider string) string {
	switch provider {
	case "openai":
		return p.OpenAI
	case "anthropic":
		return p.Anthropic
	case "xai":
		return p.XAI
	case "replicate":
		return p.Replicate
	case "elevenlabs":
		return p.ElevenLabs
	}
	return ""
}

// LimitsConfig holds rate-limit and spend-ceiling settings.
type LimitsConfig struct {
	RateWindow      time.Duration `yaml:"rate_window"`       // fixed window length
	RateCeiling     int           `yaml:"rate_ceiling"`      // requests per window
	DailyCostUSD    float64       `yaml:"daily_cost_usd"`
	WeeklyCostUSD   float64       `yaml:"weekly_cost_usd"`
	MonthlyCostUSD  float64       `yaml:"monthly_cost_usd"`
	FailClosed      bool          `yaml:"fail_closed"` // reject on usage-store query errors
}

// SessionConfig holds session-store settings.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ImagesConfig holds the hosted-image registry settings.
type ImagesConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Root       string        `yaml:"root"`         // filesystem root for stored images
	BaseURL    string        `yaml:"base_url"`     // public URL prefix for stable links
	MaxPerUser int           `yaml:"max_per_user"` // per-user image ceiling (0 = unlimited)
	MaxAge     time.Duration `yaml:"max_age"`      // age-based cull (0 = keep forever)
}

// TowerConfig holds the agent sandbox settings.
type TowerConfig struct {
	Agents map[string]AgentEntry `yaml:"agents"` // agent name -> entry
}

// AgentEntry is one agent definition in the config file.
type AgentEntry struct {
	Key          string               `yaml:"key"` // agent secret
	DisplayName  string               `yaml:"display_name"`
	Admin        bool                 `yaml:"admin"` // sees every agent's status and audit
	Capabilities gateway.Capabilities `yaml:"capabilities"`
	Limits       gateway.AgentLimits  `yaml:"limits"`
}

// TelemetryConfig controls Prometheus metrics.
type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "studio.db",
		},
		Auth: AuthConfig{
			AppleIssuer: "https://appleid.apple.com",
		},
		Limits: LimitsConfig{
			RateWindow:     60 * time.Second,
			RateCeiling:    120,
			DailyCostUSD:   10,
			WeeklyCostUSD:  50,
			MonthlyCostUSD: 200,
		},
		Session: SessionConfig{
			TTL: gateway.SessionTTL,
		},
		Images: ImagesConfig{
			Root:       "images",
			BaseURL:    "/v1/hosted",
			MaxPerUser: 200,
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
	}
}

// Validate rejects configurations that cannot serve authenticated paths.
func (c *Config) Validate() error {
	if c.Auth.AppKey == "" && c.Auth.SigningSecret == "" {
		return fmt.Errorf("config: at least one of auth.app_key or auth.signing_secret is required")
	}
	if c.Limits.RateWindow <= 0 {
		return fmt.Errorf("config: limits.rate_window must be positive")
	}
	if c.Limits.RateCeiling <= 0 {
		return fmt.Errorf("config: limits.rate_ceiling must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive")
	}
	return nil
}
