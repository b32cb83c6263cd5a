package notify

import (
	"fmt"
	"strings"
	"time"
)

// Alert is one ntfy message.
type Alert struct {
	Title    string
	Body     string
	Tags     []string
	Priority string
}

// DisconnectAlert is sent when the socket has been down past the grace
// period. It always goes out at high priority.
func DisconnectAlert(cfg *Config, downFor time.Duration, subscriptions int) Alert {
	return Alert{
		Title:    "Live feed disconnected",
		Body:     FormatDisconnectMessage(downFor, subscriptions),
		Tags:     withTag(cfg.Tags, "warning"),
		Priority: "high",
	}
}

// RecoveredAlert is sent once the socket is back after an alert.
func RecoveredAlert(cfg *Config, downFor time.Duration, subscriptions int) Alert {
	return Alert{
		Title:    "Live feed reconnected",
		Body:     FormatRecoveredMessage(downFor, subscriptions),
		Tags:     withTag(cfg.Tags, "white_check_mark"),
		Priority: cfg.Priority,
	}
}

func FormatDisconnectMessage(downFor time.Duration, subscriptions int) string {
	return fmt.Sprintf("Disconnected for: %s\nActive subscriptions: %d\nConsumers see stale data until the session is re-established.",
		downFor.Round(time.Second), subscriptions)
}

func FormatRecoveredMessage(downFor time.Duration, subscriptions int) string {
	return fmt.Sprintf("Outage: %s\nActive subscriptions: %d", downFor.Round(time.Second), subscriptions)
}

func withTag(configured, extra string) []string {
	var tags []string
	for _, t := range strings.Split(configured, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return append(tags, extra)
}
