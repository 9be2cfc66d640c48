// Package config holds the runtime configuration for the connection engine
// and its CLI front-end.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config collects the tunables of the engine. Zero values are filled from
// the default tags.
type Config struct {
	// LogLevel is a logrus level name (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level" default:"info"`

	// ScanTimeout bounds a single discovery run in the CLI. Zero means scan
	// until interrupted.
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"0s"`

	// OperationTimeout bounds individual radio operations that carry no
	// context deadline of their own.
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"5s"`

	// ClaimTimeout bounds how long a claim waits for a matching device.
	ClaimTimeout time.Duration `yaml:"claim_timeout" default:"30s"`

	// EnumRetryAttempts is the attempt budget for empty enumeration results
	// during device configuration.
	EnumRetryAttempts int `yaml:"enum_retry_attempts" default:"10"`

	// EnumRetryDelay is the pause between enumeration attempts.
	EnumRetryDelay time.Duration `yaml:"enum_retry_delay" default:"25ms"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.EnumRetryAttempts < 1 {
		return fmt.Errorf("enum_retry_attempts must be at least 1, got %d", c.EnumRetryAttempts)
	}
	if c.EnumRetryDelay < 0 {
		return fmt.Errorf("enum_retry_delay must not be negative, got %s", c.EnumRetryDelay)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation_timeout must be positive, got %s", c.OperationTimeout)
	}
	return nil
}

// NewLogger builds a logrus logger honoring the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
