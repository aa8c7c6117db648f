//go:build linux

package gpio

import (
	"fmt"

	"github.com/racerxdl/go-mcp23017"
)

// ExpanderWriter drives output pins of an MCP23017 I2C port expander.
// Sixteen pins are enough for a six-load bank with indicators.
type ExpanderWriter struct {
	device *mcp23017.Device
	pins   []uint8
}

// NewExpanderWriter opens the expander at bus/devNo and sets pins as outputs, all low.
func NewExpanderWriter(bus, devNo uint8, pins []int) (*ExpanderWriter, error) {
	device, err := mcp23017.Open(bus, devNo)
	if err != nil {
		return nil, fmt.Errorf("open mcp23017 bus %d dev %d: %w", bus, devNo, err)
	}

	w := &ExpanderWriter{device: device}
	for _, p := range pins {
		if p < 0 || p > 15 {
			device.Close()
			return nil, fmt.Errorf("mcp23017 pin %d out of range", p)
		}
		pin := uint8(p)
		if err := device.PinMode(pin, mcp23017.OUTPUT); err != nil {
			device.Close()
			return nil, fmt.Errorf("set pin %d output: %w", p, err)
		}
		if err := device.DigitalWrite(pin, mcp23017.PinLevel(false)); err != nil {
			device.Close()
			return nil, fmt.Errorf("drive pin %d low: %w", p, err)
		}
		w.pins = append(w.pins, pin)
	}
	return w, nil
}

// Write sets every pin, active-high.
func (w *ExpanderWriter) Write(levels []bool) error {
	if len(levels) != len(w.pins) {
		return fmt.Errorf("write %d levels to %d pins", len(levels), len(w.pins))
	}
	for i, on := range levels {
		if err := w.device.DigitalWrite(w.pins[i], mcp23017.PinLevel(on)); err != nil {
			return fmt.Errorf("write pin %d: %w", w.pins[i], err)
		}
	}
	return nil
}

// Close drives every pin low and closes the bus.
func (w *ExpanderWriter) Close() error {
	var errs []error
	for _, pin := range w.pins {
		if err := w.device.DigitalWrite(pin, mcp23017.PinLevel(false)); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", pin, err))
		}
	}
	if err := w.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close mcp23017: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
