package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sweeney/bioreactor/internal/config"
	"github.com/sweeney/bioreactor/internal/filter"
	"github.com/sweeney/bioreactor/internal/reactor"
	"github.com/sweeney/bioreactor/internal/sensor"
)

const (
	sensorOD          = "od"
	sensorTemperature = "temperature"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Capture a sensor zero offset and write it to the config file.",
	Long: "Averages raw readings into the zero offset of the chosen sensor. " +
		"For OD, fill the vessel with cell-free medium first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("calibrate needs --config to write the result to")
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		which, _ := cmd.Flags().GetString("sensor")
		n, _ := cmd.Flags().GetInt("samples")
		every, _ := cmd.Flags().GetDuration("every")

		adc, err := sensor.NewADS1115(cfg.ADC.Bus, cfg.ADC.Addr, cfg.ADC.ODChannel, cfg.ADC.TempChannel)
		if err != nil {
			return fmt.Errorf("init adc: %w", err)
		}
		defer adc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Sampling %s: %d readings, %v apart...\n", which, n, every)
		out, err := calibrate(ctx, adc, cfg, which, n, every)
		if err != nil {
			return err
		}
		if err := config.Save(configPath, out); err != nil {
			return err
		}
		cal := sensorConfig(&out, which)
		fmt.Printf("%s zero offset %s written to %s\n",
			which, color.New(color.FgGreen).Sprintf("%.2f", cal.ZeroOffset), configPath)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Print calibrated sensor readings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		every, _ := cmd.Flags().GetDuration("every")

		adc, err := sensor.NewADS1115(cfg.ADC.Bus, cfg.ADC.Addr, cfg.ADC.ODChannel, cfg.ADC.TempChannel)
		if err != nil {
			return fmt.Errorf("init adc: %w", err)
		}
		defer adc.Close()

		for i := 0; i < count; i++ {
			if i > 0 {
				time.Sleep(every)
			}
			fmt.Println(readOnce(adc, cfg))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().String("sensor", sensorOD, `sensor to zero ("od" or "temperature")`)
	calibrateCmd.Flags().Int("samples", 16, "number of readings to average")
	calibrateCmd.Flags().Duration("every", 500*time.Millisecond, "delay between readings")

	rootCmd.AddCommand(readCmd)
	readCmd.Flags().Int("count", 1, "number of readings")
	readCmd.Flags().Duration("every", time.Second, "delay between readings")
}

func sensorConfig(cfg *config.Config, which string) *config.SensorConfig {
	switch which {
	case sensorOD:
		return &cfg.OD
	case sensorTemperature:
		return &cfg.Temperature.Sensor
	}
	return nil
}

func calibration(s config.SensorConfig) filter.Calibration {
	return filter.Calibration{ZeroOffset: s.ZeroOffset, Scale: s.Scale, Calibrated: s.Calibrated}
}

// calibrate captures a zero offset for the named sensor and returns cfg with
// it applied. cfg itself is not modified.
func calibrate(ctx context.Context, r sensor.Reader, cfg config.Config, which string, n int, every time.Duration) (config.Config, error) {
	if n <= 0 {
		return cfg, fmt.Errorf("samples must be positive, got %d", n)
	}
	sc := sensorConfig(&cfg, which)
	if sc == nil {
		return cfg, fmt.Errorf("unknown sensor %q", which)
	}
	read := r.ReadOD
	if which == sensorTemperature {
		read = r.ReadTemperature
	}

	cal, err := reactor.CaptureZero(ctx, read, calibration(*sc), n, every)
	if err != nil {
		return cfg, fmt.Errorf("calibrate %s: %w", which, err)
	}
	sc.ZeroOffset = cal.ZeroOffset
	sc.Calibrated = cal.Calibrated
	return cfg, nil
}

// readOnce formats one OD and temperature reading.
func readOnce(r sensor.Reader, cfg config.Config) string {
	od := formatReading("OD", r.ReadOD, calibration(cfg.OD), "%.3f", cfg.Feed.DesiredOD)
	temp := formatReading("Temp", r.ReadTemperature, calibration(cfg.Temperature.Sensor), "%.2f°C", cfg.Temperature.Desired)
	return od + "  " + temp
}

// formatReading renders name, the calibrated value coloured against target
// (red above, cyan below), and the raw counts.
func formatReading(name string, read func() (float64, error), cal filter.Calibration, format string, target float64) string {
	raw, err := read()
	if err != nil {
		return fmt.Sprintf("%s: %s", name, color.New(color.FgRed).Sprintf("error (%v)", err))
	}
	v := cal.Apply(raw)
	c := color.New(color.FgCyan)
	if v > target {
		c = color.New(color.FgRed)
	}
	s := fmt.Sprintf("%s: %s (raw %.0f)", name, c.Sprintf(format, v), raw)
	if !cal.Calibrated {
		s += " " + color.New(color.FgYellow).Sprint("uncalibrated")
	}
	return s
}
