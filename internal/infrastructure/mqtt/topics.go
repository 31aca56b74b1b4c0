package mqtt

import (
	"encoding/json"
	"strings"
	"time"
)

// Status values published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to offline status messages.
const (
	ReasonGracefulShutdown     = "graceful_shutdown"
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
)

// StatusMessage is the retained JSON document published on the status topic.
//
// Example:
//
//	{"status":"offline","client_id":"mqtt2influx","reason":"graceful_shutdown","timestamp":"2026-01-02T03:04:05Z"}
type StatusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload encodes a status message. Marshalling a struct of
// strings cannot fail.
func buildStatusPayload(status, clientID, reason string, now time.Time) []byte {
	data, _ := json.Marshal(StatusMessage{ //nolint:errcheck // plain string fields
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return data
}

// ValidateFilter checks a subscription filter against the MQTT wildcard rules:
// "#" only as the last level, "+" only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidTopic
			}
		case strings.ContainsAny(level, "#+") && level != "+":
			return ErrInvalidTopic
		}
	}

	return nil
}
