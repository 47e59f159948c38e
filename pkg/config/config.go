// Package config provides unified configuration for the leitung transport
// server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (LEITUNG_ prefix)
//  4. Validation
package config

import "time"

// Config holds all configuration for the leitung transport server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Queue         QueueConfig         `yaml:"queue"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`                // default: 8080
	EndpointPath      string        `yaml:"endpoint_path"`       // default: "/mcp"
	MaxBodySize       int64         `yaml:"max_body_size"`       // default: 4 MiB
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // default: 30s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default: 10s
}

// QueueConfig holds the bounded-queue settings of the transport core.
type QueueConfig struct {
	InboundCapacity  int           `yaml:"inbound_capacity"`  // default: 20
	OutboundCapacity int           `yaml:"outbound_capacity"` // default: 20
	BroadcastWait    time.Duration `yaml:"broadcast_wait"`    // default: 50ms
}

// LoggingConfig holds log level and debug category settings. Both can be
// overridden at runtime with LEITUNG_LOG_LEVEL and LEITUNG_DEBUG.
type LoggingConfig struct {
	Level string `yaml:"level"` // default: "INFO"
	Debug string `yaml:"debug"` // comma-separated debug categories
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			EndpointPath:      "/mcp",
			MaxBodySize:       4 << 20,
			ShutdownTimeout:   30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			InboundCapacity:  20,
			OutboundCapacity: 20,
			BroadcastWait:    50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
