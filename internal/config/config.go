// Package config loads the daemon configuration from a YAML or TOML file.
// Values not present in the file keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ehtick/voltage-controlled-relay/internal/gpio"
	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/sampler"
	"github.com/ehtick/voltage-controlled-relay/internal/telemetry"
)

// MaxDwell is the longest debounce dwell the policy's millisecond counter can time.
const MaxDwell = math.MaxUint32 * time.Millisecond

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Sampler sources.
const (
	SourceSerial = "serial"
	SourceIIO    = "iio"
)

// Output drivers.
const (
	DriverChip     = "chip"
	DriverExpander = "expander"
	DriverNone     = "none" // log only, for bench runs without hardware
)

// Config is the complete daemon configuration.
type Config struct {
	Policy    string          `yaml:"policy" toml:"policy"`
	Ladder    LadderConfig    `yaml:"ladder" toml:"ladder"`
	Debounce  DebounceConfig  `yaml:"debounce" toml:"debounce"`
	ADC       ADCConfig       `yaml:"adc" toml:"adc"`
	Outputs   OutputConfig    `yaml:"outputs" toml:"outputs"`
	Cycle     time.Duration   `yaml:"cycle" toml:"cycle"`
	Heartbeat time.Duration   `yaml:"heartbeat" toml:"heartbeat"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	Serial    SerialConfig    `yaml:"serial" toml:"serial"`
	Influx    InfluxConfig    `yaml:"influx" toml:"influx"`
	Commands  CommandsConfig  `yaml:"commands" toml:"commands"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
}

// LadderConfig holds the multi-level threshold table.
type LadderConfig struct {
	TurnOn     []float64 `yaml:"turn_on" toml:"turn_on"`
	TurnOffAll float64   `yaml:"turn_off_all" toml:"turn_off_all"`
	TurnOff    []float64 `yaml:"turn_off" toml:"turn_off"`
}

// DebounceConfig holds the single-threshold policy settings.
type DebounceConfig struct {
	Threshold float64       `yaml:"threshold" toml:"threshold"`
	Dwell     time.Duration `yaml:"dwell" toml:"dwell"`
	Loads     int           `yaml:"loads" toml:"loads"`
}

// ADCConfig selects the raw reader and describes the divider.
type ADCConfig struct {
	Source     string        `yaml:"source" toml:"source"`
	Device     string        `yaml:"device" toml:"device"`
	Baud       int           `yaml:"baud" toml:"baud"`
	StaleAfter time.Duration `yaml:"stale_after" toml:"stale_after"`
	IIOPath    string        `yaml:"iio_path" toml:"iio_path"`
	VRef       float64       `yaml:"vref" toml:"vref"`
	Max        int           `yaml:"max" toml:"max"`
	Ra         float64       `yaml:"ra" toml:"ra"`
	Rb         float64       `yaml:"rb" toml:"rb"`
}

// PinPair is the relay and indicator line of one load.
type PinPair struct {
	Relay int `yaml:"relay" toml:"relay"`
	LED   int `yaml:"led" toml:"led"`
}

// OutputConfig selects the output driver and its pins.
type OutputConfig struct {
	Driver  string    `yaml:"driver" toml:"driver"`
	Chip    string    `yaml:"chip" toml:"chip"`
	I2CBus  uint8     `yaml:"i2c_bus" toml:"i2c_bus"`
	I2CAddr uint8     `yaml:"i2c_addr" toml:"i2c_addr"` // MCP23017 device number 0-7
	Pins    []PinPair `yaml:"pins" toml:"pins"`
}

// TelemetryConfig tunes the non-blocking telemetry port.
type TelemetryConfig struct {
	QueueSize   int           `yaml:"queue_size" toml:"queue_size"`
	InboxSize   int           `yaml:"inbox_size" toml:"inbox_size"`
	MinInterval time.Duration `yaml:"min_interval" toml:"min_interval"`
}

// MQTTConfig configures the MQTT transport. An empty broker disables it.
type MQTTConfig struct {
	Broker     string `yaml:"broker" toml:"broker"`
	TopicRoot  string `yaml:"topic_root" toml:"topic_root"`
	ClientID   string `yaml:"client_id" toml:"client_id"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
}

// SerialConfig configures the serial line transport. An empty device disables it.
type SerialConfig struct {
	Device string `yaml:"device" toml:"device"`
	Baud   int    `yaml:"baud" toml:"baud"`
}

// InfluxConfig configures the InfluxDB sink. An empty URL disables it.
type InfluxConfig struct {
	URL    string            `yaml:"url" toml:"url"`
	Token  string            `yaml:"token" toml:"token"`
	Org    string            `yaml:"org" toml:"org"`
	Bucket string            `yaml:"bucket" toml:"bucket"`
	Tags   map[string]string `yaml:"tags" toml:"tags"`
}

// CommandsConfig gates commands that change outputs.
type CommandsConfig struct {
	AllowOverride bool `yaml:"allow_override" toml:"allow_override"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns the reference deployment: a two-load ladder on a 12-cell
// bank read through a 56k:10k divider by a 10-bit, 5 V ADC.
func Default() Config {
	return Config{
		Policy: logic.PolicyLadder,
		Ladder: LadderConfig{
			TurnOn:     []float64{25.5, 27.0},
			TurnOffAll: 24.9,
			TurnOff:    []float64{26.5},
		},
		Debounce: DebounceConfig{
			Threshold: 25.5,
			Dwell:     60 * time.Second,
			Loads:     2,
		},
		ADC: ADCConfig{
			Source:     SourceSerial,
			Device:     "/dev/ttyUSB0",
			Baud:       115200,
			StaleAfter: 5 * time.Second,
			IIOPath:    "/sys/bus/iio/devices/iio:device0/in_voltage0_raw",
			VRef:       5.0,
			Max:        1023,
			Ra:         56000,
			Rb:         10000,
		},
		Outputs: OutputConfig{
			Driver: DriverChip,
			Chip:   "gpiochip0",
			I2CBus: 1,
			Pins: []PinPair{
				{Relay: gpio.DefaultLoad1Relay, LED: gpio.DefaultLoad1LED},
				{Relay: gpio.DefaultLoad2Relay, LED: gpio.DefaultLoad2LED},
			},
		},
		Cycle:     500 * time.Millisecond,
		Heartbeat: 15 * time.Minute,
		Telemetry: TelemetryConfig{
			QueueSize:   telemetry.DefaultQueueSize,
			InboxSize:   telemetry.DefaultInboxSize,
			MinInterval: telemetry.DefaultMinInterval,
		},
		MQTT: MQTTConfig{
			TopicRoot:  "energy/battery/relay",
			BufferSize: 64,
		},
		Serial: SerialConfig{Baud: 9600},
		HTTP:   HTTPConfig{Addr: ":80"},
	}
}

// Load reads path on top of Default. The format is chosen by extension:
// .yaml/.yml or .toml. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		// toml decodes arrays into the existing elements, so lists the file
		// sets would keep default fields the file leaves out. Start them empty.
		var scratch Config
		if md, err := toml.Decode(string(data), &scratch); err == nil {
			clearLists(&cfg, md.IsDefined)
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("parse %s: unknown keys %v", path, undecoded)
		}
	default:
		return cfg, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return cfg, nil
}

// clearLists empties the default lists the config file replaces, so YAML
// and TOML files give the same result.
func clearLists(cfg *Config, defined func(key ...string) bool) {
	if defined("ladder", "turn_on") {
		cfg.Ladder.TurnOn = nil
	}
	if defined("ladder", "turn_off") {
		cfg.Ladder.TurnOff = nil
	}
	if defined("outputs", "pins") {
		cfg.Outputs.Pins = nil
	}
}

// Save writes cfg to path, in the format chosen by extension.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		enc.Close()
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Validate checks that the configuration can drive the hardware safely.
func (c Config) Validate() error {
	if _, err := c.NewPolicy(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Divider().Validate(); err != nil {
		return fmt.Errorf("%w: adc: %v", ErrInvalid, err)
	}

	switch c.ADC.Source {
	case SourceSerial:
		if c.ADC.Device == "" {
			return fmt.Errorf("%w: adc.device required for serial source", ErrInvalid)
		}
	case SourceIIO:
		if c.ADC.IIOPath == "" {
			return fmt.Errorf("%w: adc.iio_path required for iio source", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown adc.source %q", ErrInvalid, c.ADC.Source)
	}

	n := c.LoadCount()
	switch c.Outputs.Driver {
	case DriverChip, DriverExpander:
		if len(c.Outputs.Pins) != n {
			return fmt.Errorf("%w: %d loads need %d pin pairs, got %d", ErrInvalid, n, n, len(c.Outputs.Pins))
		}
		seen := make(map[int]bool)
		for _, off := range gpio.Offsets(c.Pairs()) {
			if off < 0 {
				return fmt.Errorf("%w: negative pin %d", ErrInvalid, off)
			}
			if c.Outputs.Driver == DriverExpander && off > 15 {
				return fmt.Errorf("%w: expander pin %d out of range 0-15", ErrInvalid, off)
			}
			if seen[off] {
				return fmt.Errorf("%w: pin %d used twice", ErrInvalid, off)
			}
			seen[off] = true
		}
		if c.Outputs.Driver == DriverExpander && c.Outputs.I2CAddr > 7 {
			return fmt.Errorf("%w: expander address %d out of range 0-7", ErrInvalid, c.Outputs.I2CAddr)
		}
	case DriverNone:
	default:
		return fmt.Errorf("%w: unknown outputs.driver %q", ErrInvalid, c.Outputs.Driver)
	}

	if c.Cycle <= 0 {
		return fmt.Errorf("%w: cycle must be positive, got %v", ErrInvalid, c.Cycle)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat must not be negative, got %v", ErrInvalid, c.Heartbeat)
	}
	if c.Telemetry.QueueSize < 0 || c.Telemetry.InboxSize < 0 || c.Telemetry.MinInterval < 0 {
		return fmt.Errorf("%w: telemetry sizes and interval must not be negative", ErrInvalid)
	}
	return nil
}

// Thresholds converts the ladder section.
func (c Config) Thresholds() logic.Thresholds {
	return logic.Thresholds{
		TurnOn:     append([]float64(nil), c.Ladder.TurnOn...),
		TurnOffAll: c.Ladder.TurnOffAll,
		TurnOff:    append([]float64(nil), c.Ladder.TurnOff...),
	}
}

// NewPolicy builds the configured policy, starting at OFF.
func (c Config) NewPolicy() (logic.Policy, error) {
	switch c.Policy {
	case logic.PolicyLadder:
		return logic.NewLadder(c.Thresholds())
	case logic.PolicyDebounce:
		if c.Debounce.Dwell < 0 {
			return nil, fmt.Errorf("debounce dwell must not be negative, got %v", c.Debounce.Dwell)
		}
		// the millisecond counter wraps at 2^32
		if c.Debounce.Dwell.Milliseconds() > math.MaxUint32 {
			return nil, fmt.Errorf("debounce dwell %v exceeds %v", c.Debounce.Dwell, MaxDwell)
		}
		return logic.NewDebounce(c.Debounce.Threshold, logic.Millis(c.Debounce.Dwell.Milliseconds()), c.Debounce.Loads)
	default:
		return nil, fmt.Errorf("unknown policy %q", c.Policy)
	}
}

// LoadCount returns N, the number of loads the configured policy drives.
func (c Config) LoadCount() int {
	if c.Policy == logic.PolicyDebounce {
		return c.Debounce.Loads
	}
	return len(c.Ladder.TurnOn)
}

// Divider converts the adc section.
func (c Config) Divider() sampler.Divider {
	return sampler.Divider{VRef: c.ADC.VRef, ADCMax: c.ADC.Max, Ra: c.ADC.Ra, Rb: c.ADC.Rb}
}

// Pairs converts the configured pins.
func (c Config) Pairs() []gpio.Pair {
	pairs := make([]gpio.Pair, len(c.Outputs.Pins))
	for i, p := range c.Outputs.Pins {
		pairs[i] = gpio.Pair{Relay: p.Relay, LED: p.LED}
	}
	return pairs
}

// TelemetryPort converts the telemetry section.
func (c Config) TelemetryPort() telemetry.Config {
	return telemetry.Config{
		QueueSize:   c.Telemetry.QueueSize,
		InboxSize:   c.Telemetry.InboxSize,
		MinInterval: c.Telemetry.MinInterval,
	}
}
