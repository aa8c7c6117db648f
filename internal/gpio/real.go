//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// ChipWriter drives output lines through the Linux GPIO character device.
type ChipWriter struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	n     int
}

// NewChipWriter requests the given offsets on chipName as outputs, all low.
func NewChipWriter(chipName string, offsets []int) (*ChipWriter, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("voltage-relay"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Request every line low so nothing energizes before the first cycle.
	lines, err := chip.RequestLines(offsets, gpiocdev.AsOutput(make([]int, len(offsets))...))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output lines %v: %w", offsets, err)
	}

	return &ChipWriter{
		chip:  chip,
		lines: lines,
		n:     len(offsets),
	}, nil
}

// Write sets every line, active-high.
func (w *ChipWriter) Write(levels []bool) error {
	if len(levels) != w.n {
		return fmt.Errorf("write %d levels to %d lines", len(levels), w.n)
	}
	values := make([]int, w.n)
	for i, on := range levels {
		if on {
			values[i] = 1
		}
	}
	if err := w.lines.SetValues(values); err != nil {
		return fmt.Errorf("set lines: %w", err)
	}
	return nil
}

// Close drives every line low before releasing the lines and chip.
func (w *ChipWriter) Close() error {
	var errs []error

	if w.lines != nil {
		if err := w.lines.SetValues(make([]int, w.n)); err != nil {
			errs = append(errs, fmt.Errorf("drive lines low: %w", err))
		}
		if err := w.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lines: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
