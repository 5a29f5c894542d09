// ABOUTME: Configuration loading for the nexcart-matrix support bridge
// ABOUTME: Loads TOML from the XDG config path with ${VAR} expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	RecoveryKey string `toml:"recovery_key"`
}

// GatewayConfig holds the support agent account the bridge replies as.
type GatewayConfig struct {
	URL           string `toml:"url"`
	AgentUsername string `toml:"agent_username"`
	AgentPassword string `toml:"agent_password"`
}

type BridgeConfig struct {
	// Room receives live requests; agents answer from it.
	Room string `toml:"room"`
	// CommandPrefix, when set, marks which room messages are replies;
	// anything else is agent chatter and stays in Matrix.
	CommandPrefix string `toml:"command_prefix"`
	// HeartbeatInterval keeps the agent account counted as active.
	HeartbeatInterval string `toml:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML config text.
func Parse(text string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(expandEnvVars(text), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

// Heartbeat returns the parsed heartbeat interval, five minutes by default.
func (c *Config) Heartbeat() time.Duration {
	d, err := time.ParseDuration(c.Bridge.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.Username == "" || c.Matrix.Password == "" {
		return fmt.Errorf("matrix.username and matrix.password are required")
	}
	if !strings.HasPrefix(c.Bridge.Room, "!") {
		return fmt.Errorf("bridge.room must be a room id like !abc:example.org")
	}

	u, err := url.Parse(c.Gateway.URL)
	if err != nil || c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required and must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.AgentUsername == "" || c.Gateway.AgentPassword == "" {
		return fmt.Errorf("gateway.agent_username and gateway.agent_password are required")
	}
	if c.Bridge.HeartbeatInterval != "" {
		if _, err := time.ParseDuration(c.Bridge.HeartbeatInterval); err != nil {
			return fmt.Errorf("bridge.heartbeat_interval: %w", err)
		}
	}
	return nil
}
