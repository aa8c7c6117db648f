// Package sampler turns raw ADC codes into battery volts.
// Raw codes come from a RawReader; the real readers talk to a serial ADC
// bridge or a Linux IIO channel, the fake one replays scripted codes.
package sampler

import (
	"errors"
	"fmt"
)

// ErrNoSample is returned by readers that have no fresh code to report.
var ErrNoSample = errors.New("no sample available")

// RawReader reads one raw ADC code. Implementations must not block for
// longer than a single conversion.
type RawReader interface {
	ReadRaw() (int, error)
	Close() error
}

// Divider describes the ADC and the resistive divider in front of it.
// The battery sits across Ra+Rb and the ADC measures the voltage over Rb.
type Divider struct {
	VRef   float64 // ADC reference voltage
	ADCMax int     // full-scale code
	Ra     float64 // top resistor (ohms)
	Rb     float64 // bottom resistor (ohms)
}

// Validate checks the divider can produce a finite scale factor.
func (d Divider) Validate() error {
	if d.ADCMax <= 0 {
		return fmt.Errorf("adc full-scale code must be positive, got %d", d.ADCMax)
	}
	if d.VRef <= 0 {
		return fmt.Errorf("reference voltage must be positive, got %v", d.VRef)
	}
	if d.Rb <= 0 || d.Ra < 0 {
		return fmt.Errorf("divider resistors invalid (ra=%v rb=%v)", d.Ra, d.Rb)
	}
	return nil
}

// Clamp limits raw to [0, ADCMax] and reports whether it had to.
func (d Divider) Clamp(raw int) (int, bool) {
	switch {
	case raw < 0:
		return 0, true
	case raw > d.ADCMax:
		return d.ADCMax, true
	}
	return raw, false
}

// Volts converts a raw code to battery volts. Out-of-range codes are
// clamped to the nearest boundary first.
func (d Divider) Volts(raw int) float64 {
	raw, _ = d.Clamp(raw)
	return float64(raw) * d.VRef / float64(d.ADCMax) * (d.Ra + d.Rb) / d.Rb
}

// FullScale returns the battery voltage at the full-scale code.
func (d Divider) FullScale() float64 {
	return d.Volts(d.ADCMax)
}

// Reading is one calibrated sample.
type Reading struct {
	Raw     int // code as used for conversion (after clamping)
	Volts   float64
	Clamped bool // true if the reader returned an out-of-range code
}

// Sampler combines a reader with its divider calibration.
type Sampler struct {
	reader  RawReader
	divider Divider
}

// New creates a Sampler.
func New(reader RawReader, divider Divider) *Sampler {
	return &Sampler{reader: reader, divider: divider}
}

// Sample reads and converts one code. On a read error the returned Reading
// is the zero reading (0 V) so callers that ignore the error fail safe.
func (s *Sampler) Sample() (Reading, error) {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		return Reading{}, fmt.Errorf("read adc: %w", err)
	}
	code, clamped := s.divider.Clamp(raw)
	return Reading{
		Raw:     code,
		Volts:   s.divider.Volts(code),
		Clamped: clamped,
	}, nil
}

// Divider returns the calibration in use.
func (s *Sampler) Divider() Divider {
	return s.divider
}

// Close releases the underlying reader.
func (s *Sampler) Close() error {
	return s.reader.Close()
}
