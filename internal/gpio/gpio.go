// Package gpio drives the relay and indicator outputs of the load bank.
// The real implementations use the Linux GPIO character device or an MCP23017
// I2C expander. The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
)

// Writer sets a bank of active-high output lines in one call.
// Lines are ordered relay, indicator, relay, indicator... one pair per load.
type Writer interface {
	Write(levels []bool) error

	// Close drives every line low and releases the hardware.
	Close() error
}

// Pair is the relay and indicator pin of one load.
type Pair struct {
	Relay int
	LED   int
}

// Default pin assignment (BCM numbering) for a two-load bank.
const (
	DefaultLoad1Relay = 17
	DefaultLoad1LED   = 27
	DefaultLoad2Relay = 22
	DefaultLoad2LED   = 23
)

// Offsets flattens pairs into the line order expected by Writer.
func Offsets(pairs []Pair) []int {
	offsets := make([]int, 0, 2*len(pairs))
	for _, p := range pairs {
		offsets = append(offsets, p.Relay, p.LED)
	}
	return offsets
}

// LoadDriver maps a level onto the relay/indicator pairs of n loads.
type LoadDriver struct {
	w     Writer
	n     int
	loads []bool
}

// NewLoadDriver creates a driver for n loads on w.
func NewLoadDriver(w Writer, n int) *LoadDriver {
	return &LoadDriver{w: w, n: n, loads: make([]bool, n)}
}

// Apply energizes the relay and indicator of every load up to the level's rank
// and de-energizes the rest. Every line is written on every call, so calling
// it again with the same level leaves the outputs unchanged.
func (d *LoadDriver) Apply(level logic.Level) error {
	loads := level.Loads(d.n)
	levels := make([]bool, 0, 2*d.n)
	for _, on := range loads {
		levels = append(levels, on, on)
	}
	if err := d.w.Write(levels); err != nil {
		return fmt.Errorf("apply %v: %w", level, err)
	}
	d.loads = loads
	return nil
}

// Loads returns a copy of the last applied load vector.
func (d *LoadDriver) Loads() []bool {
	return append([]bool(nil), d.loads...)
}

// Count returns the number of loads.
func (d *LoadDriver) Count() int {
	return d.n
}

// Close de-energizes every load and releases the writer.
func (d *LoadDriver) Close() error {
	var errs []error
	if err := d.Apply(logic.Off); err != nil {
		errs = append(errs, err)
	}
	if err := d.w.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close outputs: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// LoadString renders a load vector as "1100" for logs and telemetry.
func LoadString(loads []bool) string {
	b := make([]byte, len(loads))
	for i, on := range loads {
		if on {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
