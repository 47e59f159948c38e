package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	if !strings.HasPrefix(c.Server.EndpointPath, "/") {
		errs = append(errs, fmt.Errorf("server.endpoint_path must start with \"/\", got %q", c.Server.EndpointPath))
	}

	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be > 0, got %s", c.Server.ShutdownTimeout))
	}

	if c.Queue.InboundCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.inbound_capacity must be > 0, got %d", c.Queue.InboundCapacity))
	}

	if c.Queue.OutboundCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.outbound_capacity must be > 0, got %d", c.Queue.OutboundCapacity))
	}

	if c.Queue.BroadcastWait < 0 {
		errs = append(errs, fmt.Errorf("queue.broadcast_wait must be >= 0, got %s", c.Queue.BroadcastWait))
	}

	if c.Observability.Metrics.Enabled {
		if !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
		}
		if c.Observability.Metrics.Path == c.Server.EndpointPath {
			errs = append(errs, fmt.Errorf("observability.metrics.path must differ from server.endpoint_path %q", c.Server.EndpointPath))
		}
	}

	return errors.Join(errs...)
}
