package sampler

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial.v1"
)

// DefaultSerialMode matches the ADC bridge firmware (8N1).
var DefaultSerialMode = serial.Mode{
	BaudRate: 115200,
	Parity:   serial.NoParity,
	DataBits: 8,
	StopBits: serial.OneStopBit,
}

// SerialReader follows a stream of decimal ADC codes, one per line, sent by
// a microcontroller acting as an ADC bridge. A background goroutine keeps the
// most recent code so ReadRaw never waits on the port.
type SerialReader struct {
	port       io.ReadCloser
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	code    int
	at      time.Time
	have    bool
	lastErr error

	done chan struct{}
}

// OpenSerialReader opens the serial device at path and starts following it.
func OpenSerialReader(path string, baud int, staleAfter time.Duration) (*SerialReader, error) {
	mode := DefaultSerialMode
	if baud > 0 {
		mode.BaudRate = baud
	}
	port, err := serial.Open(path, &mode)
	if err != nil {
		return nil, fmt.Errorf("open serial adc %s: %w", path, err)
	}
	return NewSerialReader(port, staleAfter, time.Now), nil
}

// NewSerialReader follows codes arriving on port. A code older than
// staleAfter is reported as ErrNoSample; zero disables the check.
func NewSerialReader(port io.ReadCloser, staleAfter time.Duration, now func() time.Time) *SerialReader {
	r := &SerialReader{
		port:       port,
		staleAfter: staleAfter,
		now:        now,
		done:       make(chan struct{}),
	}
	go r.follow()
	return r
}

func (r *SerialReader) follow() {
	defer close(r.done)
	sc := bufio.NewScanner(r.port)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		code, err := strconv.Atoi(line)
		if err != nil {
			log.Printf("sampler: ignoring malformed line %q", line)
			continue
		}
		r.mu.Lock()
		r.code = code
		r.at = r.now()
		r.have = true
		r.mu.Unlock()
	}
	r.mu.Lock()
	r.lastErr = sc.Err()
	if r.lastErr == nil {
		r.lastErr = io.EOF
	}
	r.mu.Unlock()
}

// ReadRaw returns the most recent code.
func (r *SerialReader) ReadRaw() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastErr != nil {
		return 0, fmt.Errorf("serial adc stream ended: %w", r.lastErr)
	}
	if !r.have {
		return 0, ErrNoSample
	}
	if r.staleAfter > 0 && r.now().Sub(r.at) > r.staleAfter {
		return 0, fmt.Errorf("%w: last code is %v old", ErrNoSample, r.now().Sub(r.at).Truncate(time.Millisecond))
	}
	return r.code, nil
}

// Close closes the port and waits for the follower to exit.
func (r *SerialReader) Close() error {
	err := r.port.Close()
	<-r.done
	return err
}
