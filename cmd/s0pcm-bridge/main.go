// S0pcm-bridge reads pulse counter telegrams from an S0PCM serial device
// and publishes meter readings over MQTT.
//
// Totals survive restarts without local storage: the bridge publishes its
// counters as retained messages and reconstructs them from the broker at
// startup, with the Home Assistant API as a fallback source.
//
// Usage:
//
//	s0pcm-bridge run [flags]
//
// See 's0pcm-bridge run --help' for available options.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/hass"
	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
	"github.com/darkrain-nl/s0pcm-bridge/internal/mqtt"
	"github.com/darkrain-nl/s0pcm-bridge/internal/serialreader"
	"github.com/darkrain-nl/s0pcm-bridge/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "s0pcm-bridge",
	Short: "S0PCM pulse counter to MQTT bridge",
	Long: `A bridge between S0PCM pulse counter modules and an MQTT broker.

The bridge decodes the S0PCM serial telegram stream, keeps per-channel
totals with daily rollover, and publishes them as retained MQTT messages.
On startup the previous totals are recovered from the broker itself, so no
local state file is needed. Home Assistant entities are announced through
MQTT discovery.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Run command and flags
var (
	configDir string
	logLevel  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	Long: `Start the bridge: connect to the MQTT broker, recover the previous
totals from retained messages, then read the serial port until stopped.

Configuration is read from configuration.yaml in the --config directory.
A missing file runs with defaults. When running as a Home Assistant add-on
the broker connection is discovered through the Supervisor API unless the
configuration names a broker explicitly.`,
	Example: `  # Run with defaults (/dev/ttyACM0, broker on localhost)
  s0pcm-bridge run

  # Run with a config directory and verbose logging
  s0pcm-bridge run --config /config --log-level debug`,
	RunE: runBridge,
}

func init() {
	runCmd.Flags().StringVar(&configDir, "config", ".", "Directory containing configuration.yaml")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := logging.Initialize(cfg.Log.Level); err != nil {
		return err
	}
	defer logging.Sync()

	logging.Info("Starting s0pcm-bridge",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
	)

	supervisor := hass.NewClient()
	discoverBroker(cfg, supervisor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	co := meter.NewCoordinator()
	worker := mqtt.NewWorker(co, cfg, supervisor, version.Version)
	reader := serialreader.New(co, &cfg.Serial)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return reader.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("Shutdown complete")
	return nil
}

// discoverBroker fills in broker settings from the Supervisor services API
// when running as an add-on and the config file names no broker of its own.
func discoverBroker(cfg *config.Config, supervisor *hass.Client) {
	if !supervisor.Available() || cfg.MQTT.Host != config.Default().MQTT.Host {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hass.DefaultTimeout)
	defer cancel()

	svc, err := supervisor.DiscoverMQTT(ctx)
	if err != nil {
		logging.Debug("MQTT service discovery unavailable", zap.Error(err))
		return
	}
	cfg.ApplyBrokerDiscovery(config.BrokerService{
		Host:     svc.Host,
		Port:     svc.Port,
		Username: svc.Username,
		Password: svc.Password,
	})
	logging.Info("MQTT broker discovered via Supervisor",
		zap.String("host", cfg.MQTT.Host),
		zap.Int("port", cfg.MQTT.Port),
	)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("s0pcm-bridge %s (commit: %s)\n", version.Version, version.Commit)
	},
}
