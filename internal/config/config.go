// ABOUTME: Configuration loading and parsing for nexcart-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Mirror drivers.
const (
	MirrorLocal    = "local"
	MirrorRedis    = "redis"
	MirrorSupabase = "supabase"
)

// Rate limiter drivers.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config represents the complete nexcart-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Store      StoreConfig      `yaml:"store"`
	Completion CompletionConfig `yaml:"completion"`
	Chat       ChatConfig       `yaml:"chat"`
	Support    SupportConfig    `yaml:"support"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // serve TLS with the tailnet certificate on :443
	Funnel    bool   `yaml:"funnel"` // expose publicly through Tailscale Funnel
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	NonceTTL      time.Duration `yaml:"-"`
	AgentTokenTTL time.Duration `yaml:"-"`

	NonceTTLRaw      string `yaml:"nonce_ttl"`
	AgentTokenTTLRaw string `yaml:"agent_token_ttl"`
}

// StoreConfig describes the storefront the assistant speaks for
type StoreConfig struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Currency string   `yaml:"currency"`
	Policies []string `yaml:"policies"`
}

// CompletionConfig holds the upstream chat completion settings
type CompletionConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ChatConfig holds limits for the visitor chat endpoints
type ChatConfig struct {
	MaxMessageLength int      `yaml:"max_message_length"`
	RateLimit        int      `yaml:"rate_limit"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	LoadingText      string   `yaml:"loading_text"`

	RateWindow    time.Duration `yaml:"-"`
	RateWindowRaw string        `yaml:"rate_window"`
}

// SupportConfig controls when live support is considered online
type SupportConfig struct {
	OpenHour  int    `yaml:"open_hour"`
	CloseHour int    `yaml:"close_hour"`
	Timezone  string `yaml:"timezone"`

	ActivityThreshold    time.Duration `yaml:"-"`
	ActivityThresholdRaw string        `yaml:"activity_threshold"`
}

// MirrorConfig selects the realtime conversation mirror backend
type MirrorConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisMirror    `yaml:"redis"`
	Supabase SupabaseMirror `yaml:"supabase"`
}

// RedisMirror holds stream settings for the redis mirror
type RedisMirror struct {
	StreamPrefix string `yaml:"stream_prefix"`
	MaxLen       int64  `yaml:"max_len"`
}

// SupabaseMirror holds table settings for the supabase mirror
type SupabaseMirror struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Table  string `yaml:"table"`

	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
}

// RateLimitConfig selects the server-side rate limiter backend
type RateLimitConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds the shared redis connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes raw YAML bytes the same way Load does.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.NonceTTL == 0 {
		c.Auth.NonceTTL = 12 * time.Hour
	}
	if c.Auth.AgentTokenTTL == 0 {
		c.Auth.AgentTokenTTL = 24 * time.Hour
	}

	if c.Store.Name == "" {
		c.Store.Name = "NexCart"
	}
	if c.Store.Currency == "" {
		c.Store.Currency = "৳"
	}
	if c.Store.Policies == nil {
		c.Store.Policies = []string{
			"Free shipping on orders over ৳2000",
			"30-day return policy",
			"24/7 customer support",
			"Secure payment processing",
		}
	}

	if c.Completion.Endpoint == "" {
		c.Completion.Endpoint = "https://api.groq.com/openai/v1/chat/completions"
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "llama3-8b-8192"
	}
	if c.Completion.MaxTokens == 0 {
		c.Completion.MaxTokens = 500
	}
	if c.Completion.Temperature == 0 {
		c.Completion.Temperature = 0.7
	}
	if c.Completion.TopP == 0 {
		c.Completion.TopP = 0.9
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = 30 * time.Second
	}

	if c.Chat.MaxMessageLength == 0 {
		c.Chat.MaxMessageLength = 1000
	}
	if c.Chat.RateLimit == 0 {
		c.Chat.RateLimit = 10
	}
	if c.Chat.RateWindow == 0 {
		c.Chat.RateWindow = time.Minute
	}
	if c.Chat.LoadingText == "" {
		c.Chat.LoadingText = "NexCart AI is thinking..."
	}

	if c.Support.OpenHour == 0 && c.Support.CloseHour == 0 {
		c.Support.OpenHour = 9
		c.Support.CloseHour = 21
	}
	if c.Support.ActivityThreshold == 0 {
		c.Support.ActivityThreshold = 15 * time.Minute
	}

	if c.Mirror.Driver == "" {
		c.Mirror.Driver = MirrorLocal
	}
	if c.Mirror.Redis.StreamPrefix == "" {
		c.Mirror.Redis.StreamPrefix = "nexcart:chat:"
	}
	if c.Mirror.Redis.MaxLen == 0 {
		c.Mirror.Redis.MaxLen = 1000
	}
	if c.Mirror.Supabase.Table == "" {
		c.Mirror.Supabase.Table = "chat_mirror"
	}
	if c.Mirror.Supabase.PollInterval == 0 {
		c.Mirror.Supabase.PollInterval = time.Second
	}

	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = RateLimitMemory
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Support.OpenHour < 0 || c.Support.CloseHour > 23 || c.Support.OpenHour > c.Support.CloseHour {
		return fmt.Errorf("support hours must satisfy 0 <= open_hour <= close_hour <= 23")
	}
	if c.Support.Timezone != "" {
		if _, err := time.LoadLocation(c.Support.Timezone); err != nil {
			return fmt.Errorf("support.timezone %q: %w", c.Support.Timezone, err)
		}
	}

	if !slices.Contains([]string{MirrorLocal, MirrorRedis, MirrorSupabase}, c.Mirror.Driver) {
		return fmt.Errorf("mirror.driver must be one of local, redis, supabase (got %q)", c.Mirror.Driver)
	}
	if c.Mirror.Driver == MirrorSupabase && (c.Mirror.Supabase.URL == "" || c.Mirror.Supabase.APIKey == "") {
		return fmt.Errorf("mirror.supabase.url and mirror.supabase.api_key are required for the supabase driver")
	}

	if !slices.Contains([]string{RateLimitMemory, RateLimitRedis}, c.RateLimit.Driver) {
		return fmt.Errorf("ratelimit.driver must be memory or redis (got %q)", c.RateLimit.Driver)
	}

	if (c.Mirror.Driver == MirrorRedis || c.RateLimit.Driver == RateLimitRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis driver is selected")
	}

	if c.Chat.RateLimit < 1 {
		return fmt.Errorf("chat.rate_limit must be positive")
	}

	return nil
}

// SupportLocation returns the configured support timezone, or local time.
func (c *Config) SupportLocation() *time.Location {
	if c.Support.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Support.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.nonce_ttl", cfg.Auth.NonceTTLRaw, &cfg.Auth.NonceTTL},
		{"auth.agent_token_ttl", cfg.Auth.AgentTokenTTLRaw, &cfg.Auth.AgentTokenTTL},
		{"completion.timeout", cfg.Completion.TimeoutRaw, &cfg.Completion.Timeout},
		{"chat.rate_window", cfg.Chat.RateWindowRaw, &cfg.Chat.RateWindow},
		{"support.activity_threshold", cfg.Support.ActivityThresholdRaw, &cfg.Support.ActivityThreshold},
		{"mirror.supabase.poll_interval", cfg.Mirror.Supabase.PollIntervalRaw, &cfg.Mirror.Supabase.PollInterval},
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
