package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehtick/voltage-controlled-relay/internal/config"
	"github.com/ehtick/voltage-controlled-relay/internal/control"
	"github.com/ehtick/voltage-controlled-relay/internal/gpio"
	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/mqtt"
	"github.com/ehtick/voltage-controlled-relay/internal/sampler"
	"github.com/ehtick/voltage-controlled-relay/internal/status"
	"github.com/ehtick/voltage-controlled-relay/internal/telemetry"
	"github.com/ehtick/voltage-controlled-relay/internal/web"
)

// TestIntegrationFullFlow runs the debounce policy from the ADC reader to
// the outputs, telemetry, MQTT events and the HTTP status page using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	cfg := config.Default()
	cfg.Policy = logic.PolicyDebounce
	cfg.Telemetry.MinInterval = 0
	cfg.Telemetry.QueueSize = 256

	// 10 s cycle: above at boot, then below long enough to wait out the 60 s dwell.
	volts := []float64{26.0, 25.0, 25.0, 25.0, 25.0, 25.0, 25.0, 25.0}
	codes := make([]int, len(volts))
	for i, v := range volts {
		codes[i] = sampler.CodeFor(cfg.Divider(), v)
	}
	cycle := 10 * time.Second
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	policy, err := cfg.NewPolicy()
	require.NoError(t, err)
	writer := gpio.NewFakeWriter(2 * cfg.LoadCount())
	driver := gpio.NewLoadDriver(writer, cfg.LoadCount())
	link := telemetry.NewFakeTransport()
	port := telemetry.NewPort(cfg.TelemetryPort(), func() time.Time { return start }, link)
	port.Start()
	publisher := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, status.Config{Policy: policy.Name(), Loads: cfg.LoadCount()})

	ts := httptest.NewServer(web.New(":0", tracker).Handler())
	defer ts.Close()

	ctl := control.New(control.Options{
		Policy:    policy,
		Sampler:   sampler.New(sampler.NewFakeReader(codes), cfg.Divider()),
		Driver:    driver,
		Reporter:  port,
		Publisher: publisher,
		Tracker:   tracker,
		Start:     start,
	})
	require.NoError(t, ctl.Begin())

	for i := range volts {
		now := start.Add(time.Duration(i) * cycle)
		res := ctl.Cycle(now)

		switch i {
		case 0:
			require.True(t, res.Changed, "cycle 0: commit to ON_ALL, got %+v", res)
			require.Equal(t, logic.Level(2), res.To)
		case 2:
			// handled on the next cycle
			link.Inject(telemetry.Command{Name: "STATUS"})
		case 3:
			require.NotNil(t, res.Command, "cycle 3: STATUS command")
			assert.Equal(t, "STATUS", res.Command.Name)
			sj := getStatus(t, ts.URL+"/index.json")
			assert.Equal(t, "ON_ALL", sj.Status.State)
			assert.Equal(t, "11", sj.Status.Loads)
			require.NotNil(t, sj.Status.Pending, "cycle 3: a pending change")
			assert.Equal(t, status.PendingJSON{Class: "BELOW", ElapsedMs: 20000}, *sj.Status.Pending)
		case 6:
			require.False(t, res.Changed, "cycle 6: committed before the dwell elapsed")
		case 7:
			require.True(t, res.Changed, "cycle 7: commit to OFF, got %+v", res)
			require.Equal(t, logic.Off, res.To)
		}
	}

	require.NoError(t, port.Close())

	// MQTT events
	require.Len(t, publisher.Events, 2)
	rise, drop := publisher.Events[0], publisher.Events[1]
	assert.Equal(t, logic.EventRise, rise.Type)
	assert.Equal(t, "ON_ALL", rise.ToName)
	assert.Equal(t, logic.EventDrop, drop.Type)
	assert.Equal(t, "ON_ALL", drop.FromName)
	assert.Equal(t, "OFF", drop.ToName)
	assert.True(t, drop.Timestamp.Equal(start.Add(70*time.Second)), "drop timestamp: got %v", drop.Timestamp)

	// Telemetry
	assert.Equal(t, []string{control.StartupMessage}, link.Values(control.MetricInfo))
	wantStates := []string{"ON_ALL", "ON_ALL", "ON_ALL", "ON_ALL", "ON_ALL", "ON_ALL", "ON_ALL", "ON_ALL", "OFF"}
	assert.Equal(t, wantStates, link.Values(control.MetricState))
	assert.Equal(t, []string{"11", "11", "00"}, link.Values(control.MetricLoads))
	batVolts := link.Values(control.MetricVolts)
	require.Len(t, batVolts, len(volts)+1)
	assert.Equal(t, "26.00", batVolts[0])
	assert.True(t, link.Closed(), "transport closed by port")

	// Outputs follow the committed level and drop on close.
	assert.Equal(t, "00", gpio.LoadString(driver.Loads()))
	writer.Levels[0] = true
	require.NoError(t, driver.Close())
	assert.True(t, writer.Closed)
	assert.Equal(t, make([]bool, 2*cfg.LoadCount()), writer.Levels, "every line low after close")

	snap := tracker.Snapshot()
	assert.EqualValues(t, len(volts), snap.Cycles)
	assert.Equal(t, logic.EventCounts{Rises: 1, Drops: 1}, snap.Counts)
}

// TestIntegrationLadderScenario walks the reference two-load ladder through a
// charge and discharge and checks that loads only ever nest.
func TestIntegrationLadderScenario(t *testing.T) {
	cfg := config.Default()
	policy, err := cfg.NewPolicy()
	require.NoError(t, err)

	volts := []float64{24.0, 25.6, 26.8, 27.1, 26.7, 26.4, 25.2, 24.8, 26.0}
	want := []string{"00", "10", "10", "11", "11", "10", "10", "00", "10"}

	codes := make([]int, len(volts))
	for i, v := range volts {
		codes[i] = sampler.CodeFor(cfg.Divider(), v)
	}
	driver := gpio.NewLoadDriver(gpio.NewFakeWriter(4), 2)
	ctl := control.New(control.Options{
		Policy:  policy,
		Sampler: sampler.New(sampler.NewFakeReader(codes), cfg.Divider()),
		Driver:  driver,
		Start:   time.Unix(0, 0),
	})
	require.NoError(t, ctl.Begin())

	for i := range volts {
		ctl.Cycle(time.Unix(int64(i), 0))
		loads := driver.Loads()
		assert.Equal(t, want[i], gpio.LoadString(loads), "step %d (%.1f V)", i, volts[i])
		// load i on implies every lower load on
		for j := 1; j < len(loads); j++ {
			if loads[j] {
				assert.True(t, loads[j-1], "step %d: load %d on without load %d", i, j, j-1)
			}
		}
	}
}

func getStatus(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer resp.Body.Close()

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	return sj
}
