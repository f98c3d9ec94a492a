// Package config loads bridge client configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/bridge_client/pkg/logger"
)

// Config is the top-level configuration of the bridge daemon.
type Config struct {
	Network Network       `yaml:"network"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     logger.Config `yaml:"log"`
}

// ServerConfig configures the caller-facing HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"BRIDGE_HTTP_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BRIDGE_HTTP_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" env:"BRIDGE_STORE_DRIVER"` // memory, postgres, redis
	PostgresDSN string `yaml:"postgres_dsn" env:"BRIDGE_POSTGRES_DSN"`
	RedisAddr   string `yaml:"redis_addr" env:"BRIDGE_REDIS_ADDR"`
	RedisPrefix string `yaml:"redis_prefix" env:"BRIDGE_REDIS_PREFIX"`
}

// Default returns the configuration for network name with local defaults.
func Default(name string) (*Config, error) {
	network, err := NetworkByName(name)
	if err != nil {
		return nil, err
	}
	return &Config{
		Network: network,
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "memory",
			RedisPrefix: "bridge:",
		},
		Log: logger.Config{Level: "info", Format: "text"},
	}, nil
}

// Load reads path, starting from the preset named in the file (or the
// BRIDGE_NETWORK variable), then applies BRIDGE_* environment overrides.
// An empty path loads the preset and environment only.
func Load(path string) (*Config, error) {
	name := os.Getenv("BRIDGE_NETWORK")
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		data = raw

		var head struct {
			Network struct {
				Name string `yaml:"name"`
			} `yaml:"network"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if name == "" {
			name = head.Network.Name
		}
	}
	if name == "" {
		name = NameTestnet
	}

	cfg, err := Default(name)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	err := envdecode.Decode(cfg)
	if err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

// Validate checks the fields every deployment needs.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store: postgres_dsn is required for the postgres driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store: redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	return nil
}
