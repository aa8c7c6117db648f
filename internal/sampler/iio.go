package sampler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IIOReader reads a Linux industrial-I/O ADC channel through sysfs,
// e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw for an ADS1115.
type IIOReader struct {
	path string
}

// NewIIOReader checks that the channel file exists and is readable.
func NewIIOReader(path string) (*IIOReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open iio channel: %w", err)
	}
	f.Close()
	return &IIOReader{path: path}, nil
}

// ReadRaw triggers a conversion by reading the channel file.
func (r *IIOReader) ReadRaw() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("read iio channel: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse iio value %q: %w", strings.TrimSpace(string(data)), err)
	}
	return code, nil
}

// Close is a no-op; the file is opened per read.
func (r *IIOReader) Close() error {
	return nil
}
