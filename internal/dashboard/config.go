// Package dashboard serves the portal pages as JSON from the local query
// cache, together with health and Prometheus endpoints, for `pam serve`.
package dashboard

import (
	"fmt"
	"net"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// Default constants for the HTTP server.
const (
	DefaultAddress         = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "1M"
	DefaultWaveformBuckets = 200
	MaxWaveformBuckets     = 4096
)

// Config holds the HTTP server configuration.
type Config struct {
	Address string // host:port to listen on

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // maximum request body size, e.g. "1M"
	Debug     bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:         DefaultAddress,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.Dashboard.Listen != "" {
		cfg.Address = settings.Dashboard.Listen
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.New(err).
			Component("dashboard").
			Category(errors.CategoryConfiguration).
			Context("address", c.Address).
			Build()
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.Newf("read and write timeouts must be positive").
			Component("dashboard").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Dashboard Config: address=%s, debug=%v", c.Address, c.Debug)
}
