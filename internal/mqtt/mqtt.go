// Package mqtt provides MQTT publishing and command subscription with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
)

// DefaultTopicRoot is the prefix of every topic the daemon uses.
const DefaultTopicRoot = "energy/battery/relay"

// Topics derives the daemon's topics from a root.
type Topics struct {
	Root string
}

// Events is the topic for level change events.
func (t Topics) Events() string { return t.Root + "/events" }

// System is the topic for lifecycle events (STARTUP, SHUTDOWN, HEARTBEAT, OFFLINE).
func (t Topics) System() string { return t.Root + "/system" }

// Telemetry is the topic a metric is published on.
func (t Topics) Telemetry(name string) string { return t.Root + "/telemetry/" + name }

// Commands is the subscription filter for inbound commands.
func (t Topics) Commands() string { return t.Root + "/command/+" }

// CommandName extracts the command name from a topic matching Commands.
func (t Topics) CommandName(topic string) (string, bool) {
	prefix := t.Root + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(topic, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a level change event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the level change details.
type RelayPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Level     int     `json:"level"`
	Volts     float64 `json:"volts"`
}

// FormatPayload creates the JSON payload for a level change event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			From:      event.FromName,
			To:        event.ToName,
			Level:     int(event.To),
			Volts:     math.Round(event.Volts*100) / 100,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
