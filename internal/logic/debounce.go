package logic

import "fmt"

// Class is the side of the threshold a reading falls on.
type Class string

const (
	ClassBelow Class = "BELOW"
	ClassAbove Class = "ABOVE"
)

// Debounce is the single-threshold policy: every load is on above the
// threshold and off below it, and a change only commits once the new
// classification has held for the dwell time.
type Debounce struct {
	threshold float64
	dwell     Millis
	loads     int

	level     Level
	committed bool // false until the first reading after boot

	// Pending classification, valid while pending is true.
	pending      bool
	pendingClass Class
	pendingSince Millis
}

// NewDebounce creates a debounce policy controlling loads outputs.
func NewDebounce(threshold float64, dwell Millis, loads int) (*Debounce, error) {
	if loads < 1 {
		return nil, fmt.Errorf("%w: debounce needs at least one load, got %d", ErrInvalidThresholds, loads)
	}
	return &Debounce{
		threshold: threshold,
		dwell:     dwell,
		loads:     loads,
	}, nil
}

// Classify returns ClassAbove iff volts is strictly above the threshold.
// A reading exactly at the threshold counts as below.
func (d *Debounce) Classify(volts float64) Class {
	if volts > d.threshold {
		return ClassAbove
	}
	return ClassBelow
}

// Step implements Policy.
func (d *Debounce) Step(volts float64, now Millis) (Level, bool) {
	old := d.level
	if !old.Valid(d.loads) {
		// Corrupt level: behave as at boot.
		d.level = Off
		d.committed = false
	}

	class := d.Classify(volts)

	// First reading commits immediately so the bank starts in a sane state.
	if !d.committed {
		d.commit(class)
		return d.level, d.level != old
	}

	if class == d.classOf(d.level) {
		// Reversal before dwell expiry: drop the pending change, no partial credit.
		d.pending = false
		return d.level, d.level != old
	}

	if !d.pending || d.pendingClass != class {
		d.pending = true
		d.pendingClass = class
		d.pendingSince = now
	}

	if now.Since(d.pendingSince) >= d.dwell {
		d.commit(class)
	}

	return d.level, d.level != old
}

func (d *Debounce) commit(class Class) {
	if class == ClassAbove {
		d.level = Level(d.loads)
	} else {
		d.level = Off
	}
	d.committed = true
	d.pending = false
}

func (d *Debounce) classOf(l Level) Class {
	if l == Off {
		return ClassBelow
	}
	return ClassAbove
}

// Pending reports the classification waiting out the dwell time, if any, and
// when it was first observed.
func (d *Debounce) Pending() (Class, Millis, bool) {
	return d.pendingClass, d.pendingSince, d.pending
}

// Level implements Policy.
func (d *Debounce) Level() Level { return d.level }

// Levels implements Policy.
func (d *Debounce) Levels() int { return d.loads }

// Name implements Policy.
func (d *Debounce) Name() string { return PolicyDebounce }

// StateName implements Policy. The committed "on" level is ON_ALL.
func (d *Debounce) StateName(l Level) string {
	if l == Off {
		return "OFF"
	}
	if int(l) == d.loads {
		return "ON_ALL"
	}
	return l.String()
}

// Threshold returns the switching voltage.
func (d *Debounce) Threshold() float64 { return d.threshold }

// Dwell returns the dwell time.
func (d *Debounce) Dwell() Millis { return d.dwell }
