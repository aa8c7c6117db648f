// Command voltage-relay samples a battery voltage and switches a bank of
// relay loads through a hysteresis policy, reporting over MQTT, a serial
// link and InfluxDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

func main() {
	configPath := flag.String("config", "", "Config file (.yaml, .yml or .toml); defaults apply when empty")
	broker := flag.String("broker", "", "MQTT broker address (overrides mqtt.broker, empty disables)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides http.addr, empty disables)")
	cycle := flag.Duration("cycle", 0, "Control cycle interval (overrides cycle)")
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval (overrides heartbeat, 0 disables)")
	verbose := flag.Bool("verbose", false, "Log every cycle")
	printVoltage := flag.Bool("print-voltage", false, "Print one voltage reading and exit")
	writeConfig := flag.String("write-config", "", "Write the effective config to this path and exit")

	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "cycle":
			cfg.Cycle = *cycle
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if *writeConfig != "" {
		if err := config.Save(*writeConfig, cfg); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		log.Printf("wrote %s", *writeConfig)
		return
	}

	if err := run(cfg, *verbose, *printVoltage); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, verbose, printVoltage bool) error {
	reader, err := openReader(cfg.ADC)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	smp := sampler.New(reader, cfg.Divider())
	defer smp.Close()

	if printVoltage {
		return printReading(smp, cfg.ADC.Source)
	}

	policy, err := cfg.NewPolicy()
	if err != nil {
		return fmt.Errorf("init policy: %w", err)
	}

	writer, err := openWriter(cfg)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	driver := gpio.NewLoadDriver(writer, cfg.LoadCount())
	defer func() {
		if err := driver.Close(); err != nil {
			log.Printf("outputs: %v", err)
		}
	}()

	// Transports. The MQTT client is also the event publisher; the port
	// closes every transport on shutdown.
	var (
		transports []telemetry.Transport
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		client := mqtt.NewRealClient(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			TopicRoot:  cfg.MQTT.TopicRoot,
			BufferSize: cfg.MQTT.BufferSize,
		})
		transports = append(transports, client)
		publisher = client
		mqttStatus = client
	}
	if cfg.Serial.Device != "" {
		link, err := telemetry.OpenSerialLink(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			log.Printf("telemetry: serial link unavailable: %v", err)
		} else {
			transports = append(transports, link)
		}
	}
	if cfg.Influx.URL != "" {
		transports = append(transports, telemetry.NewInfluxSink(telemetry.InfluxConfig{
			URL:          cfg.Influx.URL,
			Token:        cfg.Influx.Token,
			Organization: cfg.Influx.Org,
			Bucket:       cfg.Influx.Bucket,
			Tags:         cfg.Influx.Tags,
		}))
	}
	port := telemetry.NewPort(cfg.TelemetryPort(), time.Now, transports...)
	port.Start()
	defer func() {
		if err := port.Close(); err != nil {
			log.Printf("telemetry: %v", err)
		}
	}()

	// Status tracker (before STARTUP so the snapshot is available)
	start := time.Now()
	tracker := status.NewTracker(start, status.Config{
		Policy:        policy.Name(),
		Loads:         driver.Count(),
		CycleMs:       cfg.Cycle.Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		MinIntervalMs: cfg.Telemetry.MinInterval.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPPort:      cfg.HTTP.Addr,
		Override:      cfg.Commands.AllowOverride,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	if publisher != nil {
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startupEvent); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	ctl := control.New(control.Options{
		Policy:        policy,
		Sampler:       smp,
		Driver:        driver,
		Reporter:      port,
		Publisher:     publisher,
		Tracker:       tracker,
		Start:         start,
		AllowOverride: cfg.Commands.AllowOverride,
		Verbose:       verbose,
	})
	if err := ctl.Begin(); err != nil {
		return err
	}

	log.Printf("started: policy=%s loads=%d cycle=%v broker=%q heartbeat=%v transports=%d",
		describePolicy(policy), driver.Count(), cfg.Cycle, cfg.MQTT.Broker, cfg.Heartbeat, len(transports))

	ticker := time.NewTicker(cfg.Cycle)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctl, publisher, mqttStatus, tracker, cfg.Heartbeat, time.Now, ticker.C, sigCh)
}

// runLoop runs one control cycle per tick until a signal arrives.
// publisher, mqttStatus and tracker may be nil.
func runLoop(ctl *control.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if publisher == nil {
				return nil
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			ctl.Cycle(t)

			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			hbData := ctl.CheckHeartbeat(t, heartbeat)
			if hbData == nil {
				continue
			}
			log.Printf("heartbeat: uptime=%v rises=%d drops=%d sample_errors=%d",
				hbData.Uptime, hbData.Counts.Rises, hbData.Counts.Drops, ctl.SampleErrors())
			if publisher == nil {
				continue
			}
			hbEvent := mqtt.SystemEvent{
				Timestamp: hbData.Timestamp,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// describePolicy names the policy with the parameters that decide its switching.
func describePolicy(p logic.Policy) string {
	switch p := p.(type) {
	case *logic.Debounce:
		return fmt.Sprintf("%s(threshold=%.2fV dwell=%dms)", p.Name(), p.Threshold(), p.Dwell())
	case *logic.Ladder:
		th := p.Thresholds()
		return fmt.Sprintf("%s(on=%v off_all=%.2fV off=%v)", p.Name(), th.TurnOn, th.TurnOffAll, th.TurnOff)
	default:
		return p.Name()
	}
}

func openReader(c config.ADCConfig) (sampler.RawReader, error) {
	switch c.Source {
	case config.SourceIIO:
		return sampler.NewIIOReader(c.IIOPath)
	default:
		return sampler.OpenSerialReader(c.Device, c.Baud, c.StaleAfter)
	}
}

func openWriter(cfg config.Config) (gpio.Writer, error) {
	offsets := gpio.Offsets(cfg.Pairs())
	switch cfg.Outputs.Driver {
	case config.DriverExpander:
		return gpio.NewExpanderWriter(cfg.Outputs.I2CBus, cfg.Outputs.I2CAddr, offsets)
	case config.DriverNone:
		log.Printf("outputs: driver none, loads are not switched")
		return gpio.NewFakeWriter(2 * cfg.LoadCount()), nil
	default:
		return gpio.NewChipWriter(cfg.Outputs.Chip, offsets)
	}
}

// readyTimeout bounds how long -print-voltage waits for a streaming reader.
const readyTimeout = 3 * time.Second

func printReading(smp *sampler.Sampler, source string) error {
	deadline := time.Now().Add(readyTimeout)
	for {
		r, err := smp.Sample()
		if err == nil {
			clamped := ""
			if r.Clamped {
				clamped = " (clamped)"
			}
			fmt.Printf("%s: raw=%d volts=%.2f%s\n", source, r.Raw, r.Volts, clamped)
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
