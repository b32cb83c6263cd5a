package config

import (
	"fmt"
	"strings"
)

var validCompression = map[string]bool{"none": true, "zstd": true, "flate": true}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// InvalidValue is one key whose value was rejected.
type InvalidValue struct {
	Key    string
	Value  any
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	MissingKeys   []string
	InvalidValues []InvalidValue
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.MissingKeys) > 0 || len(e.InvalidValues) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.MissingKeys) > 0 {
		sb.WriteString("\nMissing required keys:\n")
		for _, k := range e.MissingKeys {
			sb.WriteString(fmt.Sprintf("  - %s (env LIVEFEED_%s)\n", k, envName(k)))
		}
	}

	if len(e.InvalidValues) > 0 {
		sb.WriteString("\nInvalid values:\n")
		for _, iv := range e.InvalidValues {
			sb.WriteString(fmt.Sprintf("  - %s=%v: %s\n", iv.Key, iv.Value, iv.Reason))
		}
	}

	return sb.String()
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (e *ValidationErrors) missing(key, value string) {
	if strings.TrimSpace(value) == "" {
		e.MissingKeys = append(e.MissingKeys, key)
	}
}

func (e *ValidationErrors) atLeast(key string, value, min int) {
	if value < min {
		e.InvalidValues = append(e.InvalidValues, InvalidValue{
			Key:    key,
			Value:  value,
			Reason: fmt.Sprintf("must be >= %d", min),
		})
	}
}

func (e *ValidationErrors) invalid(key string, value any, reason string) {
	e.InvalidValues = append(e.InvalidValues, InvalidValue{Key: key, Value: value, Reason: reason})
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	errs.missing("backend.rest_url", c.Backend.RestURL)
	errs.missing("backend.socket_url", c.Backend.SocketURL)
	errs.atLeast("backend.timeout_sec", c.Backend.TimeoutSec, 1)
	errs.atLeast("backend.retry_count", c.Backend.RetryCount, 1)
	errs.atLeast("backend.rate_per_second", c.Backend.RatePerSecond, 1)

	errs.atLeast("socket.reconnect_min_ms", c.Socket.ReconnectMinMS, 1)
	if c.Socket.ReconnectMinMS > c.Socket.ReconnectMaxMS {
		errs.invalid("socket.reconnect_max_ms", c.Socket.ReconnectMaxMS,
			fmt.Sprintf("must be >= socket.reconnect_min_ms (%d)", c.Socket.ReconnectMinMS))
	}
	if !validCompression[c.Socket.Compression] {
		errs.invalid("socket.compression", c.Socket.Compression, "must be one of none, zstd, flate")
	}

	errs.atLeast("pagination.events_per_page", c.Pagination.EventsPerPage, 1)
	errs.atLeast("provider.workers", c.Provider.Workers, 1)

	if c.Server.Enabled {
		errs.missing("server.port", c.Server.Port)
	}
	if c.Mirror.Enabled {
		errs.missing("mirror.redis_addr", c.Mirror.RedisAddr)
		errs.missing("mirror.stream", c.Mirror.Stream)
	}
	if c.Notify.Enabled {
		errs.missing("notify.topic", c.Notify.Topic)
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs.invalid("logging.level", c.Logging.Level, "must be one of debug, info, warn, error")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
