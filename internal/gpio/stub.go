//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// ChipWriter is not available on non-Linux platforms.
type ChipWriter struct{}

// NewChipWriter returns an error on non-Linux platforms.
func NewChipWriter(chipName string, offsets []int) (*ChipWriter, error) {
	return nil, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (w *ChipWriter) Write(levels []bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (w *ChipWriter) Close() error { return nil }

// ExpanderWriter is not available on non-Linux platforms.
type ExpanderWriter struct{}

// NewExpanderWriter returns an error on non-Linux platforms.
func NewExpanderWriter(bus, devNo uint8, pins []int) (*ExpanderWriter, error) {
	return nil, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (w *ExpanderWriter) Write(levels []bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (w *ExpanderWriter) Close() error { return nil }
