// Package control runs one sample, step, apply, report cycle of the relay
// daemon. It owns the policy and the load driver; nothing else may touch them.
package control

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ehtick/voltage-controlled-relay/internal/gpio"
	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/mqtt"
	"github.com/ehtick/voltage-controlled-relay/internal/sampler"
	"github.com/ehtick/voltage-controlled-relay/internal/status"
	"github.com/ehtick/voltage-controlled-relay/internal/telemetry"
)

// Metric names sent over telemetry.
const (
	MetricVolts = "BAT_VOLTS"
	MetricState = "STATE"
	MetricLoads = "LOADS"
	MetricInfo  = "INFO"
)

// Command names accepted from telemetry.
const (
	CommandForce  = "FORCE"
	CommandStatus = "STATUS"
)

// StartupMessage is sent as INFO when the controller starts.
const StartupMessage = "Initializing voltage_controlled_relay..."

// sampleErrorLogEvery limits how often a persistent sampler failure is logged.
const sampleErrorLogEvery = 100

// Reporter is the non-blocking side of the telemetry port.
// *telemetry.Port implements it.
type Reporter interface {
	SendMetric(name, value string)
	SendNow(name, value string)
	Poll() (telemetry.Command, bool)
	Stats() telemetry.Stats
}

// Options wires a Controller. Reporter, Publisher and Tracker may be nil.
type Options struct {
	Policy        logic.Policy
	Sampler       *sampler.Sampler
	Driver        *gpio.LoadDriver
	Reporter      Reporter
	Publisher     mqtt.Publisher
	Tracker       *status.Tracker
	Start         time.Time // origin of the policy's millisecond counter
	AllowOverride bool      // accept FORCE
	Verbose       bool      // log every cycle
}

// Result is the outcome of one cycle.
type Result struct {
	Reading   sampler.Reading
	SampleErr error
	From      logic.Level
	To        logic.Level
	Changed   bool
	Applied   logic.Level // level handed to the driver; differs from To under FORCE
	Event     *logic.Event
	Command   *telemetry.Command
}

// HeartbeatData contains the data for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    logic.EventCounts
}

// Controller executes control cycles. It is not safe for concurrent use;
// the run loop owns it.
type Controller struct {
	policy    logic.Policy
	sampler   *sampler.Sampler
	driver    *gpio.LoadDriver
	reporter  Reporter
	publisher mqtt.Publisher
	tracker   *status.Tracker
	start     time.Time
	allowOver bool
	verbose   bool

	override      *logic.Level
	sampled       bool // a sample has succeeded since startup
	counts        logic.EventCounts
	sampleErrors  int64
	cycles        int64
	last          sampler.Reading
	lastLoads     string
	lastHeartbeat time.Time
}

// New creates a Controller. Call Begin before the first Cycle.
func New(o Options) *Controller {
	return &Controller{
		policy:        o.Policy,
		sampler:       o.Sampler,
		driver:        o.Driver,
		reporter:      o.Reporter,
		publisher:     o.Publisher,
		tracker:       o.Tracker,
		start:         o.Start,
		allowOver:     o.AllowOverride,
		verbose:       o.Verbose,
		lastHeartbeat: o.Start,
	}
}

// Begin de-energizes every load and announces the daemon over telemetry.
func (c *Controller) Begin() error {
	if c.reporter != nil {
		c.reporter.SendNow(MetricInfo, StartupMessage)
	}
	if err := c.driver.Apply(logic.Off); err != nil {
		return fmt.Errorf("drop loads: %w", err)
	}
	c.lastLoads = gpio.LoadString(c.driver.Loads())
	return nil
}

// Cycle runs sample, step, apply, report and poll, in that order.
func (c *Controller) Cycle(t time.Time) Result {
	var res Result

	reading, err := c.sampler.Sample()
	if err != nil {
		// zero reading: 0 V drives the bank toward OFF
		c.sampleErrors++
		if c.sampleErrors == 1 || c.sampleErrors%sampleErrorLogEvery == 0 {
			log.Printf("sample error (%d total): %v", c.sampleErrors, err)
		}
		res.SampleErr = err
	}
	res.Reading = reading
	c.last = reading

	// Until a real reading arrives the policy is not stepped: its boot
	// commit belongs to the first good sample. Outputs stay at OFF meanwhile.
	res.From = c.policy.Level()
	res.To = res.From
	if err == nil || c.sampled {
		res.To, res.Changed = c.policy.Step(reading.Volts, logic.MillisSince(c.start, t))
	}
	if err == nil {
		c.sampled = true
	}

	res.Applied = res.To
	if c.override != nil {
		res.Applied = *c.override
	}
	if err := c.driver.Apply(res.Applied); err != nil {
		log.Printf("apply %s: %v", res.Applied, err)
	}

	c.report(t, &res)

	if c.reporter != nil {
		if cmd, ok := c.reporter.Poll(); ok {
			res.Command = &cmd
			c.handle(cmd)
		}
	}

	c.cycles++
	c.updateTracker(t)
	return res
}

func (c *Controller) report(t time.Time, res *Result) {
	volts := res.Reading.Volts
	state := c.policy.StateName(res.To)

	if res.Changed {
		ev := logic.NewEvent(c.policy, t, res.From, res.To, volts)
		res.Event = &ev
		c.counts.Add(ev)
		log.Printf("voltage %.2fV - state %s --> %s", volts, ev.FromName, ev.ToName)
		if c.publisher != nil {
			if err := c.publisher.Publish(ev); err != nil {
				log.Printf("publish error: %v", err)
			}
		}
	} else if c.verbose {
		log.Printf("voltage %.2fV - state %s --> %s", volts, state, state)
	}

	if c.reporter == nil {
		return
	}
	c.reporter.SendMetric(MetricVolts, formatVolts(volts))
	if res.Changed {
		c.reporter.SendNow(MetricState, state)
	} else {
		c.reporter.SendMetric(MetricState, state)
	}
	if loads := gpio.LoadString(c.driver.Loads()); loads != c.lastLoads {
		c.lastLoads = loads
		c.reporter.SendNow(MetricLoads, loads)
	}
}

func (c *Controller) handle(cmd telemetry.Command) {
	log.Printf("CMD -> '%s' Data -> '%s'", cmd.Name, cmd.Payload)

	switch strings.ToUpper(cmd.Name) {
	case CommandStatus:
		c.sendAll()
	case CommandForce:
		if !c.allowOver {
			log.Printf("command: FORCE ignored, override disabled")
			return
		}
		level, auto, err := ParseLevel(cmd.Payload, c.policy.Levels())
		if err != nil {
			log.Printf("command: FORCE: %v", err)
			return
		}
		if auto {
			c.override = nil
			log.Printf("command: override cleared, outputs follow %s", c.policy.StateName(c.policy.Level()))
		} else {
			c.override = &level
			log.Printf("command: outputs forced to %s", level)
		}
		c.applyNow()
	default:
		log.Printf("command: unknown command %q ignored", cmd.Name)
	}
}

// applyNow drives the outputs for a new override without waiting for the next cycle.
func (c *Controller) applyNow() {
	level := c.policy.Level()
	if c.override != nil {
		level = *c.override
	}
	if err := c.driver.Apply(level); err != nil {
		log.Printf("apply %s: %v", level, err)
	}
	if loads := gpio.LoadString(c.driver.Loads()); loads != c.lastLoads {
		c.lastLoads = loads
		c.reporter.SendNow(MetricLoads, loads)
	}
}

func (c *Controller) sendAll() {
	c.reporter.SendNow(MetricVolts, formatVolts(c.last.Volts))
	c.reporter.SendNow(MetricState, c.policy.StateName(c.policy.Level()))
	c.reporter.SendNow(MetricLoads, gpio.LoadString(c.driver.Loads()))
}

func (c *Controller) updateTracker(t time.Time) {
	if c.tracker == nil {
		return
	}
	st := status.State{
		Volts:        c.last.Volts,
		Raw:          c.last.Raw,
		Clamped:      c.last.Clamped,
		Level:        c.policy.Level(),
		StateName:    c.policy.StateName(c.policy.Level()),
		Loads:        c.driver.Loads(),
		Counts:       c.counts,
		SampleErrors: c.sampleErrors,
	}
	if c.override != nil {
		st.Override = c.override.String()
	}
	if p, ok := c.policy.(interface {
		Pending() (logic.Class, logic.Millis, bool)
	}); ok {
		if class, since, pending := p.Pending(); pending {
			elapsed := logic.MillisSince(c.start, t).Since(since)
			st.Pending = &status.Pending{Class: string(class), ElapsedMs: int64(elapsed)}
		}
	}
	if c.reporter != nil {
		st.Telemetry = c.reporter.Stats()
	}
	c.tracker.Update(st)
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil before the first cycle, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 || c.cycles == 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.start),
		Counts:    c.counts,
	}
}

// Counts returns the number of rises and drops since startup.
func (c *Controller) Counts() logic.EventCounts { return c.counts }

// SampleErrors returns how many samples failed since startup.
func (c *Controller) SampleErrors() int64 { return c.sampleErrors }

// Override returns the forced level, if any.
func (c *Controller) Override() (logic.Level, bool) {
	if c.override == nil {
		return logic.Off, false
	}
	return *c.override, true
}

func formatVolts(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
