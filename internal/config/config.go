// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Durations are configured as integer milliseconds or seconds and exposed
//     through typed accessor methods.
//   - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store drivers understood by the repository factory.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the encoder: json or console.
	LogFormat string `koanf:"log_format"`

	// Addr is the public API listen address.
	Addr string `koanf:"addr"`

	// FanoutAddr is the public listen address of the standalone fan-out process.
	FanoutAddr string `koanf:"fanout_addr"`

	// NotifyAddr is the internal listen address for POST /notify on the fan-out process.
	NotifyAddr string `koanf:"notify_addr"`

	// NotifyURL, when set, makes the API process forward events to a remote
	// fan-out process instead of its in-process hub.
	NotifyURL string `koanf:"notify_url"`

	// NotifyTimeoutMS bounds one notify round trip.
	NotifyTimeoutMS int `koanf:"notify_timeout_ms"`

	// NotifyQueueSize bounds the outgoing notification queue.
	NotifyQueueSize int `koanf:"notify_queue_size"`

	// StoreDriver is sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the driver specific data source name.
	StoreDSN string `koanf:"store_dsn"`

	// MarkerPath is the shared change marker file; empty keeps the marker in memory.
	MarkerPath string `koanf:"marker_path"`

	// WatchIntervalMS is the fallback watcher poll interval.
	WatchIntervalMS int `koanf:"watch_interval_ms"`

	// WatchMaxLifetimeS caps one fallback watcher stream.
	WatchMaxLifetimeS int `koanf:"watch_max_lifetime_s"`

	// ClientBufferSize is the per-connection outbox size of the hub.
	ClientBufferSize int `koanf:"client_buffer_size"`

	// WriteTimeoutMS bounds one websocket write.
	WriteTimeoutMS int `koanf:"write_timeout_ms"`

	// HandshakeTimeoutMS bounds the wait for the register message.
	HandshakeTimeoutMS int `koanf:"handshake_timeout_ms"`

	// OriginPatterns are the browser origins allowed to open /ws. Comma
	// separated in the environment.
	OriginPatterns []string `koanf:"origin_patterns"`

	// DedupeSize is the number of notify envelope ids remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// TopN is the default leaderboard cut when a request does not specify one.
	TopN int `koanf:"top_n"`

	// SeedFile is an optional YAML file with criteria, bands and users.
	SeedFile string `koanf:"seed_file"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "json",
		Addr:               ":8080",
		FanoutAddr:         ":8081",
		NotifyAddr:         "127.0.0.1:8082",
		NotifyTimeoutMS:    1000,
		NotifyQueueSize:    1024,
		StoreDriver:        DriverSQLite,
		StoreDSN:           "file:tabulator.db",
		MarkerPath:         "storage/band_event.txt",
		WatchIntervalMS:    2000,
		WatchMaxLifetimeS:  120,
		ClientBufferSize:   32,
		WriteTimeoutMS:     3000,
		HandshakeTimeoutMS: 10000,
		OriginPatterns:     []string{"*"},
		DedupeSize:         4096,
		TopN:               8,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverSQLite && c.StoreDriver != DriverPostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case strings.TrimSpace(c.StoreDSN) == "":
		return fmt.Errorf("%w: store_dsn must not be empty", ErrInvalidConfig)
	case c.NotifyTimeoutMS <= 0:
		return fmt.Errorf("%w: notify_timeout_ms must be positive", ErrInvalidConfig)
	case c.WatchIntervalMS <= 0 || c.WatchMaxLifetimeS <= 0:
		return fmt.Errorf("%w: watcher interval and lifetime must be positive", ErrInvalidConfig)
	case c.ClientBufferSize <= 0:
		return fmt.Errorf("%w: client_buffer_size must be positive", ErrInvalidConfig)
	case c.TopN < 0:
		return fmt.Errorf("%w: top_n must not be negative", ErrInvalidConfig)
	}
	return nil
}

// NotifyTimeout is NotifyTimeoutMS as a duration.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}

// WatchInterval is WatchIntervalMS as a duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMS) * time.Millisecond
}

// WatchMaxLifetime is WatchMaxLifetimeS as a duration.
func (c *Config) WatchMaxLifetime() time.Duration {
	return time.Duration(c.WatchMaxLifetimeS) * time.Second
}

// WriteTimeout is WriteTimeoutMS as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// HandshakeTimeout is HandshakeTimeoutMS as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}
