package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/service/daemon"
	"github.com/oshokin/perimeter-sentinel/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// listenAddress optionally overrides the local API listen address.
	listenAddress string
	// simulated forces the simulated GPIO backend.
	simulated bool

	// rootCmd represents the base command for running the controller daemon.
	rootCmd = &cobra.Command{
		Use:   "perimeter-sentinel",
		Short: "Run the door alarm controller daemon.",
		Long: `Starts the always-on perimeter alarm controller.

The daemon watches the door sensor, runs the alarm state machine with its
exit/entry grace timers, drives the siren and floodlight relays, persists
every event to a durable on-disk queue, and replays the queue to the remote
authority over an authenticated websocket whenever connectivity allows.
A local HTTP API on the loopback interface serves status, arm/disarm and
manual actuator control.

SIGHUP reloads the configuration file; SIGTERM and SIGINT shut down
gracefully with the outputs forced off as the last act.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &daemon.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				Simulated:     simulated,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the perimeter-sentinel CLI and exits with non-zero status
// on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "override the local API listen address")
	rootCmd.Flags().BoolVar(&simulated, "simulated", false, "use the simulated GPIO backend")
}
