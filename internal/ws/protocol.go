package ws

import (
	"encoding/json"
	"fmt"
)

// Notification types sent by the backend.
const (
	notificationListeningStarted = "LISTENING_STARTED"
	notificationContentChanges   = "CONTENT_CHANGES"
)

type notification struct {
	Type string          `json:"notificationType"`
	Data json.RawMessage `json:"data"`
}

// Downstream message types for internal routing
type (
	listeningStarted struct {
		token string
	}
	contentChanges struct {
		containers []json.RawMessage
	}
	ignoredNotification struct {
		kind string
	}
)

// parseNotification parses a decompressed JSON frame.
func parseNotification(frame []byte) (any, error) {
	var n notification
	if err := json.Unmarshal(frame, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}

	switch n.Type {
	case notificationListeningStarted:
		var token string
		if err := json.Unmarshal(n.Data, &token); err != nil {
			return nil, fmt.Errorf("listening started token: %w", err)
		}
		if token == "" {
			return nil, fmt.Errorf("listening started: empty token")
		}
		return &listeningStarted{token: token}, nil

	case notificationContentChanges:
		var containers []json.RawMessage
		if err := json.Unmarshal(n.Data, &containers); err != nil {
			return nil, fmt.Errorf("content changes: %w", err)
		}
		return &contentChanges{containers: containers}, nil

	default:
		return &ignoredNotification{kind: n.Type}, nil
	}
}
