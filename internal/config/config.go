// Package config loads process settings of the guardsim commands from the
// environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. GUARDSIM_PORT.
const Prefix = "GUARDSIM"

// Config holds the process settings. Variable names are derived from the
// field names: LogLevel is read from GUARDSIM_LOG_LEVEL.
type Config struct {
	LogLevel string `split_words:"true" default:"info"`
	LogDev   bool   `split_words:"true"`

	Host string `default:"127.0.0.1"`
	Port int    `default:"8080"`

	RateLimitRPS   float64 `split_words:"true" default:"20"`
	RateLimitBurst int     `split_words:"true" default:"40"`
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		LogLevel:       "info",
		Host:           "127.0.0.1",
		Port:           8080,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}
}

// Load reads the configuration from GUARDSIM_* variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("load config: rate limit must be positive, got %v rps burst %d",
			cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return cfg, nil
}

// LoadOrDefault is Load falling back to Default on error.
func LoadOrDefault() Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
