// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr   string      `yaml:"addr" default:":8080"`
	WSPath string      `yaml:"ws_path" default:"/ws" validate:"startswith=/"`
	Hooks  HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// DatabaseConfig represents the library database connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" default:"data/shelfcast.db" validate:"required"`
}

// SessionsConfig represents playback session registry timings.
type SessionsConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after" default:"5m" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" default:"15s" validate:"gt=0"`
	GracePeriod   time.Duration `yaml:"grace_period" default:"30s" validate:"gt=0"`
}

// WebSocketConfig represents broadcast connection tuning.
type WebSocketConfig struct {
	WriteWait      time.Duration `yaml:"write_wait" default:"10s" validate:"gt=0"`
	PongWait       time.Duration `yaml:"pong_wait" default:"60s" validate:"gt=0"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"54s" validate:"gt=0,ltfield=PongWait"`
	MaxMessageSize int64         `yaml:"max_message_size" default:"4096" validate:"gt=0"`
	SendBuffer     int           `yaml:"send_buffer" default:"64" validate:"gt=0"`
}

// AuthConfig represents the ordered credential verifiers.
type AuthConfig struct {
	Verifiers []VerifierConfig `yaml:"verifiers" validate:"required,min=1,dive"`
}

// VerifierConfig represents a single credential verifier configuration.
type VerifierConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=jwt apikey"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		for i := range c.Auth.Verifiers {
			if c.Auth.Verifiers[i].Type == "jwt" {
				if c.Auth.Verifiers[i].Settings == nil {
					c.Auth.Verifiers[i].Settings = make(map[string]any)
				}
				c.Auth.Verifiers[i].Settings["secret"] = v
				break
			}
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Sessions.SweepInterval > c.Sessions.StaleAfter {
		return errors.Newf("sweep_interval (%v) must not exceed stale_after (%v)", c.Sessions.SweepInterval, c.Sessions.StaleAfter)
	}

	return nil
}

// VerifierSettings returns the settings of the first verifier of the given type.
func (c *Config) VerifierSettings(verifierType string) (map[string]any, bool) {
	for _, v := range c.Auth.Verifiers {
		if v.Type == verifierType {
			return v.Settings, true
		}
	}
	return nil, false
}
