// Package status provides a thread-safe status tracker for the voltage-relay daemon.
// It is written by the control loop and read by HTTP handlers and MQTT heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/telemetry"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing cmd-level helpers from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Policy        string
	Loads         int
	CycleMs       int64
	HeartbeatMs   int64
	MinIntervalMs int64
	Broker        string
	HTTPPort      string
	Override      bool // FORCE command enabled
}

// Pending describes a debounce timer that is running.
type Pending struct {
	Class     string
	ElapsedMs int64
}

// State is what the control loop reports after every cycle.
type State struct {
	Volts        float64
	Raw          int
	Clamped      bool
	Level        logic.Level
	StateName    string
	Loads        []bool
	Override     string // forced level name, empty when automatic
	Pending      *Pending
	Counts       logic.EventCounts
	SampleErrors int64
	Telemetry    telemetry.Stats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State
	Ready         bool // at least one cycle has run
	Cycles        int64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update records the outcome of a control cycle.
func (t *Tracker) Update(s State) {
	s.Loads = copyLoads(s.Loads)
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	t.mu.Lock()
	t.snap.State = s
	t.snap.Ready = true
	t.snap.Cycles++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Loads = copyLoads(s.Loads)
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	s.Now = t.now()
	return s
}

func copyLoads(loads []bool) []bool {
	if loads == nil {
		return nil
	}
	return append([]bool(nil), loads...)
}
