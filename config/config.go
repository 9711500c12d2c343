// Package config loads and validates server configuration from YAML,
// TOML, or JSON files (or a URL), with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Server struct {
		Name        string `yaml:"name" toml:"name" json:"name" env:"IRCD_SERVER_NAME" validate:"required"`
		Network     string `yaml:"network" toml:"network" json:"network" env:"IRCD_NETWORK" validate:"required"`
		Description string `yaml:"description" toml:"description" json:"description" env:"IRCD_DESCRIPTION"`
		Host        string `yaml:"host" toml:"host" json:"host" env:"IRCD_HOST"`
		Port        int    `yaml:"port" toml:"port" json:"port" env:"IRCD_PORT" validate:"gte=0,lte=65535"`
		Password    string `yaml:"password" toml:"password" json:"password" env:"IRCD_PASSWORD"`
	} `yaml:"server" toml:"server" json:"server"`

	// Resource limits and timeouts
	Limits struct {
		MaxClients         int `yaml:"max_clients" toml:"max_clients" json:"max_clients" env:"IRCD_MAX_CLIENTS" validate:"gte=0"`
		MaxLineLen         int `yaml:"max_line_len" toml:"max_line_len" json:"max_line_len" env:"IRCD_MAX_LINE_LEN" validate:"gt=0"`
		SendQueueLen       int `yaml:"send_queue_len" toml:"send_queue_len" json:"send_queue_len" env:"IRCD_SEND_QUEUE_LEN" validate:"gt=0"`
		IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds" json:"idle_timeout_seconds" env:"IRCD_IDLE_TIMEOUT_SECONDS" validate:"gte=0"`
	} `yaml:"limits" toml:"limits" json:"limits"`

	// Broadcast behavior
	Broadcast struct {
		// EchoToSender controls whether channel messages are delivered
		// back to the session that sent them.
		EchoToSender bool `yaml:"echo_to_sender" toml:"echo_to_sender" json:"echo_to_sender" env:"IRCD_ECHO_TO_SENDER"`
	} `yaml:"broadcast" toml:"broadcast" json:"broadcast"`

	// Admin HTTP portal settings
	Admin struct {
		Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_ADMIN_ENABLED"`
		Host    string `yaml:"host" toml:"host" json:"host" env:"IRCD_ADMIN_HOST"`
		Port    int    `yaml:"port" toml:"port" json:"port" env:"IRCD_ADMIN_PORT" validate:"gte=0,lte=65535"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	// Operator definitions. PasswordHash is a bcrypt hash.
	Operators []Operator `yaml:"operators" toml:"operators" json:"operators" validate:"dive"`

	Debug bool `yaml:"debug" toml:"debug" json:"debug" env:"IRCD_DEBUG"`

	// Configuration source, kept for diagnostics
	Source string `yaml:"-" toml:"-" json:"-" env:"-"`
}

// Operator represents an IRC operator credential.
type Operator struct {
	Username     string `yaml:"username" toml:"username" json:"username" validate:"required"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash" json:"password_hash" validate:"required"`
}

var validate = validator.New()

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Name = "ircd.local"
	cfg.Server.Network = "IRCore"
	cfg.Server.Description = "IRCore chat server"
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 6667
	cfg.Limits.MaxClients = 1024
	cfg.Limits.MaxLineLen = 512
	cfg.Limits.SendQueueLen = 64
	cfg.Limits.IdleTimeoutSeconds = 240
	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 8090
	return cfg
}

// Load loads configuration from a file or URL, then applies environment
// variable overrides and validates the result. An empty source loads
// defaults plus environment overrides.
func Load(source string) (*Config, error) {
	cfg := Default()

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadFromSource loads configuration from a file or URL, choosing the
// format by extension.
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

// ListenAddress returns the host:port the IRC listener binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminAddress returns the host:port the admin portal binds to.
func (c *Config) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// IdleTimeout returns the idle window as a duration; zero disables the
// idle policy.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Limits.IdleTimeoutSeconds) * time.Second
}
