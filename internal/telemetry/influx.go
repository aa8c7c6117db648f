package telemetry

import (
	"log"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxMeasurement is the measurement every metric is written to.
const InfluxMeasurement = "battery"

// pointWriter is the part of the influx WriteAPI the sink uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink stores metrics as InfluxDB points through the client's
// asynchronous, batching write API.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	tags   map[string]string
	now    func() time.Time
}

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL          string
	Token        string
	Organization string
	Bucket       string
	Tags         map[string]string // extra tags, e.g. site=cabin
}

// NewInfluxSink creates a sink writing to the configured bucket.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Printf("telemetry: influx: write: %v", err)
		}
	}()
	return &InfluxSink{
		client: client,
		writer: writeAPI,
		tags:   cfg.Tags,
		now:    time.Now,
	}
}

// Name implements Transport.
func (s *InfluxSink) Name() string { return "influx" }

// Send queues a point tagged with the metric name. Numeric values are stored
// as floats, anything else (state names, load masks) as strings.
func (s *InfluxSink) Send(m Metric) error {
	s.writer.WritePoint(s.point(m))
	return nil
}

func (s *InfluxSink) point(m Metric) *write.Point {
	tags := make(map[string]string, len(s.tags)+1)
	for k, v := range s.tags {
		tags[k] = v
	}
	tags["metric"] = m.Name

	var value interface{} = m.Value
	if f, err := strconv.ParseFloat(m.Value, 64); err == nil {
		value = f
	}
	return influxdb2.NewPoint(InfluxMeasurement, tags, map[string]interface{}{"value": value}, s.now())
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
