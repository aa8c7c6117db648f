package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ehtick/voltage-controlled-relay/internal/gpio"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Ready         bool          `json:"ready"`
	State         string        `json:"state"`
	Level         int           `json:"level"`
	Volts         float64       `json:"volts"`
	Raw           int           `json:"raw"`
	Clamped       bool          `json:"clamped,omitempty"`
	Loads         string        `json:"loads"`
	Override      string        `json:"override,omitempty"`
	Pending       *PendingJSON  `json:"pending,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Cycles        int64         `json:"cycles"`
	SampleErrors  int64         `json:"sample_errors"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Telemetry     TelemetryJSON `json:"telemetry"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// PendingJSON reports a running debounce timer.
type PendingJSON struct {
	Class     string `json:"class"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Rises int `json:"rise"`
	Drops int `json:"drop"`
}

// TelemetryJSON is the JSON representation of telemetry port counters.
type TelemetryJSON struct {
	Sent            int64 `json:"sent"`
	Dropped         int64 `json:"dropped"`
	Limited         int64 `json:"limited"`
	Failed          int64 `json:"failed"`
	Commands        int64 `json:"commands"`
	CommandsDropped int64 `json:"commands_dropped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Policy        string `json:"policy"`
	Loads         int    `json:"loads"`
	CycleMs       int64  `json:"cycle_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	MinIntervalMs int64  `json:"min_interval_ms"`
	Broker        string `json:"broker"`
	HTTPPort      string `json:"http_port"`
	Override      bool   `json:"override_enabled"`
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.StateName
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		Ready:         snap.Ready,
		State:         state,
		Level:         int(snap.Level),
		Volts:         math.Round(snap.Volts*100) / 100,
		Raw:           snap.Raw,
		Clamped:       snap.Clamped,
		Loads:         gpio.LoadString(snap.Loads),
		Override:      snap.Override,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Cycles:        snap.Cycles,
		SampleErrors:  snap.SampleErrors,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON{Rises: snap.Counts.Rises, Drops: snap.Counts.Drops},
		Telemetry: TelemetryJSON{
			Sent:            snap.Telemetry.Sent,
			Dropped:         snap.Telemetry.Dropped,
			Limited:         snap.Telemetry.Limited,
			Failed:          snap.Telemetry.Failed,
			Commands:        snap.Telemetry.Commands,
			CommandsDropped: snap.Telemetry.CommandsDropped,
		},
		Config: ConfigJSON{
			Policy:        snap.Config.Policy,
			Loads:         snap.Config.Loads,
			CycleMs:       snap.Config.CycleMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			MinIntervalMs: snap.Config.MinIntervalMs,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
			Override:      snap.Config.Override,
		},
	}
	if snap.Pending != nil {
		inner.Pending = &PendingJSON{Class: snap.Pending.Class, ElapsedMs: snap.Pending.ElapsedMs}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
