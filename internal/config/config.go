// Package config loads server settings from an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
		PebblePath  string `yaml:"pebble_path"`
	} `yaml:"storage"`
	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		SkipVerify bool   `yaml:"skip_verify"`
	} `yaml:"auth"`
	RateLimit struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
	Replies struct {
		ExemptPhrases []string `yaml:"exempt_phrases"`
		MinLength     int      `yaml:"min_length"`
		MaxLength     int      `yaml:"max_length"`
	} `yaml:"replies"`
	Events struct {
		NATSURL        string        `yaml:"nats_url"`
		LogConsumer    bool          `yaml:"log_consumer"`
		HandlerTimeout time.Duration `yaml:"handler_timeout"`
	} `yaml:"events"`
}

// Default returns the development defaults
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Storage.Driver = DriverPebble
	cfg.Storage.PebblePath = "./data/marginalia"
	cfg.RateLimit.PerMinute = 100
	cfg.Replies.MinLength = 10
	cfg.Replies.MaxLength = 2000
	cfg.Events.HandlerTimeout = 30 * time.Second
	return cfg
}

// Addr returns host:port for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any environment variables that are set
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PEBBLE_PATH"); v != "" {
		cfg.Storage.PebblePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("REPLY_EXEMPT_PHRASES"); v != "" {
		cfg.Replies.ExemptPhrases = splitList(v)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &cfg.Server.Port},
		{"RATE_LIMIT_PER_MINUTE", &cfg.RateLimit.PerMinute},
		{"RATE_LIMIT_BURST", &cfg.RateLimit.Burst},
		{"REPLY_MIN_LENGTH", &cfg.Replies.MinLength},
		{"REPLY_MAX_LENGTH", &cfg.Replies.MaxLength},
	}
	for _, i := range ints {
		v := os.Getenv(i.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", i.name, err)
		}
		*i.dst = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"AUTH_SKIP_VERIFY", &cfg.Auth.SkipVerify},
		{"EVENTS_LOG_CONSUMER", &cfg.Events.LogConsumer},
	}
	for _, b := range bools {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean: %w", b.name, err)
		}
		*b.dst = parsed
	}
	return nil
}

// Validate checks that the configuration can start a server
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverPebble:
		if c.Storage.PebblePath == "" {
			return errors.New("PEBBLE_PATH is required for the pebble driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want %s or %s)", c.Storage.Driver, DriverPostgres, DriverPebble)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.SkipVerify {
		return errors.New("JWT_SECRET is required unless AUTH_SKIP_VERIFY is set")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.RateLimit.PerMinute)
	}
	if c.Replies.MinLength > c.Replies.MaxLength {
		return fmt.Errorf("reply min length %d exceeds max length %d", c.Replies.MinLength, c.Replies.MaxLength)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
