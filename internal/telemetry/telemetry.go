// Package telemetry provides a non-blocking metric/command port in front of
// one or more transports (MQTT, a Bluetooth serial link, InfluxDB).
//
// The control cycle calls SendMetric and Poll; neither ever waits on a
// transport. Metrics go through a bounded queue to a single worker goroutine,
// and are dropped rather than queued when the worker falls behind.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Metric is one key/value telemetry line.
type Metric struct {
	Name  string
	Value string
}

// Command is an inbound command record.
type Command struct {
	Name    string
	Payload string
}

// Transport delivers metrics somewhere. Send may block; the Port calls it
// from its worker goroutine only.
type Transport interface {
	Name() string
	Send(m Metric) error
	Close() error
}

// Listener is implemented by transports that also receive commands.
// deliver must not block and may be called from any goroutine.
type Listener interface {
	Listen(deliver func(Command)) error
}

// Default queue sizes.
const (
	DefaultQueueSize   = 32
	DefaultInboxSize   = 8
	DefaultMinInterval = 2 * time.Second
)

// Config configures a Port.
type Config struct {
	QueueSize   int
	InboxSize   int
	MinInterval time.Duration // per-metric minimum spacing for SendMetric; 0 disables
}

// Stats counts what happened to metrics and commands.
type Stats struct {
	Sent            int64
	Dropped         int64 // queue full
	Limited         int64 // suppressed by MinInterval
	Failed          int64 // transport returned an error
	Commands        int64
	CommandsDropped int64
}

// Port is the telemetry boundary seen by the control cycle.
type Port struct {
	transports  []Transport
	minInterval time.Duration
	now         func() time.Time

	out  chan Metric
	in   chan Command
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// lastSent is touched only by the goroutine calling SendMetric.
	lastSent map[string]time.Time

	sent            atomic.Int64
	dropped         atomic.Int64
	limited         atomic.Int64
	failed          atomic.Int64
	commands        atomic.Int64
	commandsDropped atomic.Int64
}

// NewPort creates a port over the given transports. Call Start before use.
func NewPort(cfg Config, now func() time.Time, transports ...Transport) *Port {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	return &Port{
		transports:  transports,
		minInterval: cfg.MinInterval,
		now:         now,
		out:         make(chan Metric, cfg.QueueSize),
		in:          make(chan Command, cfg.InboxSize),
		done:        make(chan struct{}),
		lastSent:    make(map[string]time.Time),
	}
}

// Start registers command listeners and launches the delivery worker.
func (p *Port) Start() {
	for _, t := range p.transports {
		if l, ok := t.(Listener); ok {
			if err := l.Listen(p.Deliver); err != nil {
				log.Printf("telemetry: %s: listen: %v", t.Name(), err)
			}
		}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
}

func (p *Port) run() {
	for {
		select {
		case m := <-p.out:
			p.deliver(m)
		case <-p.done:
			// Flush what is already queued, then stop.
			for {
				select {
				case m := <-p.out:
					p.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Port) deliver(m Metric) {
	for _, t := range p.transports {
		if err := t.Send(m); err != nil {
			p.failed.Add(1)
			log.Printf("telemetry: %s: send %s: %v", t.Name(), m.Name, err)
		}
	}
	p.sent.Add(1)
}

// SendMetric queues name=value unless the same name was sent less than
// MinInterval ago or the queue is full. It never blocks.
func (p *Port) SendMetric(name, value string) {
	if p.minInterval > 0 {
		t := p.now()
		if last, ok := p.lastSent[name]; ok && t.Sub(last) < p.minInterval {
			p.limited.Add(1)
			return
		}
		p.lastSent[name] = t
	}
	p.enqueue(Metric{Name: name, Value: value})
}

// SendNow queues name=value bypassing the rate limit. It never blocks.
func (p *Port) SendNow(name, value string) {
	if p.minInterval > 0 {
		p.lastSent[name] = p.now()
	}
	p.enqueue(Metric{Name: name, Value: value})
}

func (p *Port) enqueue(m Metric) {
	select {
	case p.out <- m:
	default:
		p.dropped.Add(1)
	}
}

// Deliver hands an inbound command to the port. It never blocks; when the
// inbox is full the command is dropped.
func (p *Port) Deliver(c Command) {
	select {
	case p.in <- c:
		p.commands.Add(1)
	default:
		p.commandsDropped.Add(1)
	}
}

// Poll returns the next inbound command, if any, without waiting.
func (p *Port) Poll() (Command, bool) {
	select {
	case c := <-p.in:
		return c, true
	default:
		return Command{}, false
	}
}

// Stats returns a snapshot of the counters.
func (p *Port) Stats() Stats {
	return Stats{
		Sent:            p.sent.Load(),
		Dropped:         p.dropped.Load(),
		Limited:         p.limited.Load(),
		Failed:          p.failed.Load(),
		Commands:        p.commands.Load(),
		CommandsDropped: p.commandsDropped.Load(),
	}
}

// Close stops the worker after flushing queued metrics and closes every
// transport. SendMetric must not be called concurrently with Close.
func (p *Port) Close() error {
	var errs []error
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		for _, t := range p.transports {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
