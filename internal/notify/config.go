package notify

import (
	"errors"
	"fmt"
	"time"
)

// Config holds ntfy notification configuration.
type Config struct {
	Enabled         bool          // Whether notifications are enabled
	Server          string        // ntfy server URL (default: https://ntfy.sh)
	Topic           string        // Topic name (required if enabled)
	Priority        string        // Message priority: min, low, default, high, urgent
	Tags            string        // Comma-separated emoji tags (e.g., "satellite")
	Token           string        // Optional access token for private topics
	DisconnectGrace time.Duration // How long the socket may stay down before alerting
}

// Validate checks configuration is valid when enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Topic == "" {
		return errors.New("notify.topic is required when notify.enabled=true")
	}

	validPriorities := map[string]bool{
		"min": true, "low": true, "default": true, "high": true, "urgent": true,
	}
	if !validPriorities[c.Priority] {
		return fmt.Errorf("invalid notify.priority: %s (valid: min, low, default, high, urgent)", c.Priority)
	}

	if c.DisconnectGrace < 0 {
		return fmt.Errorf("invalid notify.disconnect_grace_sec: %s", c.DisconnectGrace)
	}

	return nil
}
