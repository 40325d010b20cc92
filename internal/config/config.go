// ABOUTME: Configuration loading and parsing for larder
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backend names for sessions and challenges
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// minTicketSecretLen is the shortest accepted sync.ticket_secret.
const minTicketSecretLen = 32

// Config represents the complete larder configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	WebAuthn   WebAuthnConfig   `yaml:"webauthn" toml:"webauthn"`
	Sessions   SessionsConfig   `yaml:"sessions" toml:"sessions"`
	Challenges ChallengesConfig `yaml:"challenges" toml:"challenges"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	Sync       SyncConfig       `yaml:"sync" toml:"sync"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" toml:"ratelimit"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// CORSOrigins lists web app origins allowed to call the API with cookies
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve on :443 with a tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// WebAuthnConfig identifies the relying party
type WebAuthnConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	RPName  string `yaml:"rp_name" toml:"rp_name"`
	RPID    string `yaml:"rp_id" toml:"rp_id"`

	VerifyTimeout    time.Duration `yaml:"-" toml:"-"`
	VerifyTimeoutRaw string        `yaml:"verify_timeout" toml:"verify_timeout"`
}

// SessionsConfig controls session storage and the session cookie
type SessionsConfig struct {
	Backend    string `yaml:"backend" toml:"backend"`
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`

	MaxAge    time.Duration `yaml:"-" toml:"-"`
	MaxAgeRaw string        `yaml:"max_age" toml:"max_age"`
}

// ChallengesConfig controls ceremony challenge storage
type ChallengesConfig struct {
	Backend string `yaml:"backend" toml:"backend"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// RedisConfig holds the shared Redis connection used by redis backends
type RedisConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// SyncConfig holds sync ticket configuration
type SyncConfig struct {
	TicketSecret string `yaml:"ticket_secret" toml:"ticket_secret"`

	TicketTTL    time.Duration `yaml:"-" toml:"-"`
	TicketTTLRaw string        `yaml:"ticket_ttl" toml:"ticket_ttl"`
}

// RateLimitConfig limits ceremony endpoints per client address.
// A CeremonyRPS of zero disables limiting.
type RateLimitConfig struct {
	CeremonyRPS   float64 `yaml:"ceremony_rps" toml:"ceremony_rps"`
	CeremonyBurst int     `yaml:"ceremony_burst" toml:"ceremony_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. ext selects the format (".toml" or YAML).
func Parse(data []byte, ext string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: $LARDER_CONFIG if set,
// otherwise larder.yaml under the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv("LARDER_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "larder.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "larder", "larder.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.WebAuthn.RPName == "" {
		c.WebAuthn.RPName = "Inventory App"
	}
	if c.WebAuthn.VerifyTimeout == 0 {
		c.WebAuthn.VerifyTimeout = 10 * time.Second
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = BackendMemory
	}
	if c.Sessions.CookieName == "" {
		c.Sessions.CookieName = "session"
	}
	if c.Sessions.MaxAge == 0 {
		c.Sessions.MaxAge = 7 * 24 * time.Hour
	}
	if c.Challenges.Backend == "" {
		c.Challenges.Backend = BackendMemory
	}
	if c.Challenges.TTL == 0 {
		c.Challenges.TTL = 5 * time.Minute
	}
	if c.Sync.TicketTTL == 0 {
		c.Sync.TicketTTL = 5 * time.Minute
	}
	if c.RateLimit.CeremonyRPS > 0 && c.RateLimit.CeremonyBurst == 0 {
		c.RateLimit.CeremonyBurst = int(c.RateLimit.CeremonyRPS*2) + 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tailscale.Funnel {
		c.Tailscale.HTTPS = true
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.WebAuthn.BaseURL != "" {
		u, err := url.Parse(c.WebAuthn.BaseURL)
		if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webauthn.base_url %q must be an absolute http(s) URL", c.WebAuthn.BaseURL)
		}
	}

	for name, backend := range map[string]string{
		"sessions.backend":   c.Sessions.Backend,
		"challenges.backend": c.Challenges.Backend,
	} {
		if backend != BackendMemory && backend != BackendRedis {
			return fmt.Errorf("%s must be %q or %q, got %q", name, BackendMemory, BackendRedis, backend)
		}
	}
	if c.UsesRedis() && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when a redis backend is selected")
	}

	if len(c.Sync.TicketSecret) < minTicketSecretLen {
		return fmt.Errorf("sync.ticket_secret must be at least %d characters", minTicketSecretLen)
	}

	for name, d := range map[string]time.Duration{
		"webauthn.verify_timeout": c.WebAuthn.VerifyTimeout,
		"sessions.max_age":        c.Sessions.MaxAge,
		"challenges.ttl":          c.Challenges.TTL,
		"sync.ticket_ttl":         c.Sync.TicketTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.RateLimit.CeremonyRPS < 0 || c.RateLimit.CeremonyBurst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// UsesRedis reports whether any store is configured for Redis.
func (c *Config) UsesRedis() bool {
	return c.Sessions.Backend == BackendRedis || c.Challenges.Backend == BackendRedis
}

// SecureCookies reports whether the session cookie should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	if c.Tailscale.Enabled && c.Tailscale.HTTPS {
		return true
	}
	return strings.HasPrefix(c.WebAuthn.BaseURL, "https://")
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"webauthn.verify_timeout", cfg.WebAuthn.VerifyTimeoutRaw, &cfg.WebAuthn.VerifyTimeout},
		{"sessions.max_age", cfg.Sessions.MaxAgeRaw, &cfg.Sessions.MaxAge},
		{"challenges.ttl", cfg.Challenges.TTLRaw, &cfg.Challenges.TTL},
		{"sync.ticket_ttl", cfg.Sync.TicketTTLRaw, &cfg.Sync.TicketTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
