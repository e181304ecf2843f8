// Package config loads the engine configuration from a YAML file with
// environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Market  MarketConfig  `yaml:"market"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig selects the persistence backend. An empty DatabaseURL
// falls back to the in-memory store; an empty RedisURL disables caching.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

// MarketConfig seeds the price table at startup. Every district gets an
// entry for every good at the good's base price; existing entries are left
// untouched so restarts do not reset prices.
type MarketConfig struct {
	Districts []string                   `yaml:"districts"`
	Goods     map[string]decimal.Decimal `yaml:"goods"` // good id -> base price
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. A missing file is not an error:
// defaults plus environment carry a development setup.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Market.Districts) == 0 {
		c.Market.Districts = []string{"centrum", "noord", "zuid", "haven"}
	}
	if len(c.Market.Goods) == 0 {
		c.Market.Goods = map[string]decimal.Decimal{
			"drugs":   decimal.NewFromInt(100),
			"weapons": decimal.NewFromInt(250),
			"alcohol": decimal.NewFromInt(40),
			"tobacco": decimal.NewFromInt(25),
		}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
}

func (c *Config) validate() error {
	for goodID, price := range c.Market.Goods {
		if !price.IsPositive() {
			return fmt.Errorf("base price for %s must be positive, got %s", goodID, price)
		}
	}
	return nil
}
