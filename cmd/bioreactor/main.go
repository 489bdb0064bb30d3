// Command bioreactor runs the culture controller: turbidity-gated feeding,
// gain-scheduled temperature control and the status/telemetry outputs.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/bioreactor/internal/config"
	"github.com/sweeney/bioreactor/internal/logging"
)

// buildEpoch is the build time in Unix seconds, set with
// -ldflags "-X main.buildEpoch=$(date +%s)". It bounds the clock fallback
// from below on a board with no RTC.
var buildEpoch string

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bioreactor",
	Short: "Bioreactor controller.",
	Long: `Bioreactor controller: feeds the culture when turbidity exceeds the ` +
		`target and holds temperature with a gain-scheduled PID loop.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel})
	return cfg, log, nil
}

// parseBuildEpoch returns the ldflags build time, or 0 when unset or bad.
func parseBuildEpoch(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
