package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/bioreactor/internal/clock"
	"github.com/sweeney/bioreactor/internal/config"
	"github.com/sweeney/bioreactor/internal/gpio"
	"github.com/sweeney/bioreactor/internal/mqtt"
	"github.com/sweeney/bioreactor/internal/reactor"
	"github.com/sweeney/bioreactor/internal/sensor"
	"github.com/sweeney/bioreactor/internal/status"
	"github.com/sweeney/bioreactor/internal/store"
	"github.com/sweeney/bioreactor/internal/web"
)

// networkEnvFile is written by pi-helper with the current network state.
const networkEnvFile = "/run/pi-helper.env"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller until SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("broker") {
			cfg.MQTT.Broker, _ = flags.GetString("broker")
		}
		if flags.Changed("http") {
			cfg.HTTP.Addr, _ = flags.GetString("http")
		}
		if flags.Changed("ws-broker") {
			cfg.HTTP.WSBroker, _ = flags.GetString("ws-broker")
		}
		if flags.Changed("db") {
			cfg.Sinks.DBPath, _ = flags.GetString("db")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		heartbeat, _ := flags.GetDuration("heartbeat")

		if err := run(cfg, heartbeat, log); err != nil {
			log.Error().Err(err).Msg("fatal")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("broker", "", "MQTT broker address (overrides config)")
	runCmd.Flags().String("http", "", "HTTP status address, empty to disable (overrides config)")
	runCmd.Flags().String("ws-broker", "", `MQTT websocket URL for live UI ("=broker" derives from the broker, "off" disables)`)
	runCmd.Flags().String("db", "", "SQLite log path, empty to disable (overrides config)")
	runCmd.Flags().Duration("heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
}

func run(cfg config.Config, heartbeat time.Duration, log zerolog.Logger) error {
	if err := godotenv.Load(networkEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", networkEnvFile).Msg("cannot load network env")
	}

	// Optional log store; its newest row also seeds the clock fallback.
	var (
		logSink reactor.LogSink
		records web.RecordSource
	)
	fallback := parseBuildEpoch(buildEpoch)
	if cfg.Sinks.DBPath != "" {
		st, err := store.Open(cfg.Sinks.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		logSink, records = st, st
		fallback = resumeFallback(context.Background(), st, fallback, log)
	}

	// Hardware
	adc, err := sensor.NewADS1115(cfg.ADC.Bus, cfg.ADC.Addr, cfg.ADC.ODChannel, cfg.ADC.TempChannel)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer adc.Close()

	valve, err := gpio.NewRealValve(cfg.Valve.Chip, cfg.Valve.Pin)
	if err != nil {
		return fmt.Errorf("init valve: %w", err)
	}
	defer valve.Release()

	heater, err := gpio.NewRealHeater(cfg.Heater.Pin, physic.Frequency(cfg.Heater.FrequencyHz)*physic.Hertz, cfg.Heater.FullScale)
	if err != nil {
		return fmt.Errorf("init heater: %w", err)
	}
	defer heater.Release()

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.Device, log)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	ws := resolveWSBroker(cfg.HTTP.WSBroker, cfg.MQTT.Broker, log)
	tracker := status.NewTracker(time.Now(), status.Config{
		Device:             cfg.Device,
		PollMs:             cfg.Loop.Poll.D().Milliseconds(),
		SyncIntervalMs:     cfg.Clock.SyncInterval.D().Milliseconds(),
		TelemetryMs:        cfg.Sinks.TelemetryInterval.D().Milliseconds(),
		FeedIntervalMs:     cfg.Feed.Interval.D().Milliseconds(),
		DesiredOD:          cfg.Feed.DesiredOD,
		DesiredTemperature: cfg.Temperature.Desired,
		MaxOutput:          cfg.Heater.MaxOutput,
		Broker:             cfg.MQTT.Broker,
		HTTPPort:           cfg.HTTP.Addr,
		WSBroker:           ws,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var timeSrc clock.TimeSource
	if cfg.Clock.NTPServer != "" {
		timeSrc = clock.NTPSource{Server: cfg.Clock.NTPServer, Timeout: cfg.Clock.SyncTimeout.D()}
	}

	r, err := reactor.New(reactor.FromConfig(cfg), reactor.Deps{
		Ticks:     clock.NewMonotonicSource(),
		Fallback:  fallback,
		Sensor:    adc,
		Valve:     valve,
		Heater:    heater,
		Time:      timeSrc,
		Log:       logSink,
		Display:   tracker,
		Telemetry: publisher,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("init reactor: %w", err)
	}

	// One sync attempt before the first run is anchored.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Clock.SyncTimeout.D())
	r.SyncNow(ctx)
	cancel()

	// Publish startup event with full status snapshot
	tracker.Update(r.Snapshot())
	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  r.Clock().Time(),
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	}

	restart := make(chan struct{}, 1)
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, records, restart)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	log.Info().
		Str("device", cfg.Device).
		Dur("poll", cfg.Loop.Poll.D()).
		Str("broker", cfg.MQTT.Broker).
		Dur("heartbeat", heartbeat).
		Str("run_id", r.Run().ID).
		Str("clock", r.Clock().Source().String()).
		Msg("started")

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify ready")
	}

	ticker := time.NewTicker(cfg.Loop.Poll.D())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(r, publisher, publisher, tracker, heartbeat, time.Now, ticker.C, sigCh, restart, log)
	if _, nerr := daemon.SdNotify(false, daemon.SdNotifyStopping); nerr != nil {
		log.Debug().Err(nerr).Msg("sd_notify stopping")
	}
	return err
}

func runLoop(r *reactor.Reactor, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, restart <-chan struct{}, log zerolog.Logger) error {
	lastHeartbeat := now()

	// event publishes a lifecycle event carrying a fresh status snapshot.
	event := func(name, reason string, retained bool) {
		ev := mqtt.SystemEvent{
			Timestamp: r.Clock().Time(),
			Event:     name,
			Reason:    reason,
			Retained:  retained,
		}
		if tracker != nil {
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			tracker.Update(r.Snapshot())
			ev.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), name, reason)
		}
		if err := publisher.PublishSystem(ev); err != nil {
			log.Warn().Err(err).Str("event", name).Msg("system event publish failed")
		}
	}

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			r.Shutdown()
			event("SHUTDOWN", signalName, true)
			return nil

		case <-restart:
			prev := r.Run().ID
			id := r.Restart()
			log.Info().Str("run_id", id).Str("previous_run_id", prev).Msg("run restart requested")
			event("RUN_RESTART", prev, true)

		case <-tick:
			r.Poll()

			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			t := now()
			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				// Refresh network info for heartbeat
				if tracker != nil {
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
				}
				run := r.Run()
				log.Info().
					Str("run_id", run.ID).
					Int("pulses", run.Pulses).
					Float64("total_volume", run.TotalVolume).
					Str("clock", r.Clock().Source().String()).
					Msg("heartbeat")
				event("HEARTBEAT", "", false)
			}
		}
	}
}

// lastWaller is the part of the store that seeds the clock fallback.
type lastWaller interface {
	LastWallTime(ctx context.Context) (int64, error)
}

// resumeFallback returns the later of fallback and the newest logged wall
// time, so a reboot without network time never runs the clock backwards
// past what was already recorded.
func resumeFallback(ctx context.Context, src lastWaller, fallback int64, log zerolog.Logger) int64 {
	last, err := src.LastWallTime(ctx)
	if errors.Is(err, store.ErrNoRecords) {
		return fallback
	}
	if err != nil {
		log.Warn().Err(err).Msg("cannot read last logged wall time")
		return fallback
	}
	if last > fallback {
		return last
	}
	return fallback
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

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or
// empty disables.
func resolveWSBroker(ws, broker string, log zerolog.Logger) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Warn().Err(err).Str("broker", broker).Msg("ws-broker: cannot parse broker address")
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
