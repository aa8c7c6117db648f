package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial.v1"
)

// FormatLine renders m as "NAME,value\n".
func FormatLine(m Metric) string {
	return m.Name + "," + m.Value + "\n"
}

// ParseCommandLine parses "NAME,payload". The payload is everything after the
// first comma, so it may itself contain commas. A line without a comma is a
// command with an empty payload. Blank lines are rejected.
func ParseCommandLine(line string) (Command, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, false
	}
	name, payload, _ := strings.Cut(line, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name, Payload: payload}, true
}

// SerialLink speaks the line protocol over a serial port, typically a
// Bluetooth SPP module wired to a UART or an rfcomm device.
type SerialLink struct {
	port io.ReadWriteCloser

	mu   sync.Mutex // serializes writes
	done chan struct{}
}

// OpenSerialLink opens the serial device at path.
func OpenSerialLink(path string, baud int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial link %s: %w", path, err)
	}
	return NewSerialLink(port), nil
}

// NewSerialLink wraps an already-open port.
func NewSerialLink(port io.ReadWriteCloser) *SerialLink {
	return &SerialLink{port: port}
}

// Name implements Transport.
func (l *SerialLink) Name() string { return "serial" }

// Send writes one metric line.
func (l *SerialLink) Send(m Metric) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.port, FormatLine(m)); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// Listen starts reading command lines from the port.
func (l *SerialLink) Listen(deliver func(Command)) error {
	if l.done != nil {
		return fmt.Errorf("already listening")
	}
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		sc := bufio.NewScanner(l.port)
		for sc.Scan() {
			if c, ok := ParseCommandLine(sc.Text()); ok {
				deliver(c)
			}
		}
		if err := sc.Err(); err != nil {
			log.Printf("telemetry: serial: read: %v", err)
		}
	}()
	return nil
}

// Close closes the port and waits for the reader to stop.
func (l *SerialLink) Close() error {
	err := l.port.Close()
	if l.done != nil {
		<-l.done
	}
	return err
}
