// Package logic contains the pure load-control decision logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injected, either as time.Time or as a Millis counter value.
package logic

import (
	"fmt"
	"time"
)

// Level is the discrete load state. OFF is 0; LEVEL_k energizes loads 1..k.
type Level int

// Off is the de-energized state every policy starts in.
const Off Level = 0

// String returns "OFF" or "LEVEL_k".
func (l Level) String() string {
	if l == Off {
		return "OFF"
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// Loads projects the level onto n load flags: load i (0-based) is energized iff i < level.
// Levels outside [0, n] are clamped.
func (l Level) Loads(n int) []bool {
	loads := make([]bool, n)
	for i := 0; i < n && i < int(l); i++ {
		loads[i] = true
	}
	return loads
}

// Valid reports whether l is a defined level for a bank of n loads.
func (l Level) Valid(n int) bool {
	return l >= Off && int(l) <= n
}

// Millis is a monotonic millisecond counter that wraps at 2^32.
type Millis uint32

// Since returns the elapsed time from earlier to m using unsigned subtraction,
// so a counter wrap between the two readings still yields the right answer.
func (m Millis) Since(earlier Millis) Millis {
	return m - earlier
}

// MillisSince converts t to the counter relative to start. The result wraps
// roughly every 49.7 days, like a microcontroller millis() counter.
func MillisSince(start, t time.Time) Millis {
	return Millis(uint64(t.Sub(start).Milliseconds()))
}

// EventType is the direction of a committed level change.
type EventType string

const (
	EventRise EventType = "RISE"
	EventDrop EventType = "DROP"
)

// Event represents a committed level change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      Level
	To        Level
	FromName  string
	ToName    string
	Volts     float64
}

// NewEvent builds the event for a change from -> to observed at volts.
func NewEvent(p Policy, t time.Time, from, to Level, volts float64) Event {
	typ := EventRise
	if to < from {
		typ = EventDrop
	}
	return Event{
		Timestamp: t,
		Type:      typ,
		From:      from,
		To:        to,
		FromName:  p.StateName(from),
		ToName:    p.StateName(to),
		Volts:     volts,
	}
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Rises int
	Drops int
}

// Add counts e.
func (c *EventCounts) Add(e Event) {
	switch e.Type {
	case EventRise:
		c.Rises++
	case EventDrop:
		c.Drops++
	}
}
