package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/perimeter-sentinel/internal/service/ctl"
	"github.com/oshokin/perimeter-sentinel/internal/version"
)

// defaultDaemonAddress matches the daemon's default local API listen
// address.
const defaultDaemonAddress = "127.0.0.1:8080"

var (
	// serverAddress is the daemon's local API address.
	serverAddress string
	// on is the requested output level for siren and floodlight commands.
	on bool
	// durationS bounds how long a manually driven output stays on.
	durationS int
	// exitDelayS overrides the exit delay when arming.
	exitDelayS int
	// autoRearmS overrides the auto-rearm delay when disarming.
	autoRearmS int

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "sentinel-ctl",
		Short: "Control and inspect the perimeter-sentinel daemon.",
		Long: `Command line client for the perimeter-sentinel local API.

Reads status, arms and disarms the alarm, drives the siren and floodlight
manually, and tails the live event stream. All commands talk to the daemon
on the loopback interface; nothing here touches hardware directly.`,
	}
)

// Execute runs the sentinel-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run executes one control action with signal-aware cancellation.
func run(action ctl.Action) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return ctl.Run(ctx, &ctl.Options{
		ServerAddress: serverAddress,
		Action:        action,
		On:            on,
		DurationS:     durationS,
		ExitDelayS:    exitDelayS,
		AutoRearmS:    autoRearmS,
	})
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", defaultDaemonAddress, "daemon local API address")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the daemon status snapshot.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionStatus) },
	}

	armCmd := &cobra.Command{
		Use:   "arm",
		Short: "Arm the alarm, starting the exit delay.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionArm) },
	}
	armCmd.Flags().IntVar(&exitDelayS, "exit-delay", 0, "override the exit delay in seconds")

	disarmCmd := &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the alarm and silence the outputs.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionDisarm) },
	}
	disarmCmd.Flags().IntVar(&autoRearmS, "auto-rearm", 0, "re-arm automatically after this many seconds")

	sirenCmd := &cobra.Command{
		Use:   "siren",
		Short: "Drive the siren manually.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionSiren) },
	}
	sirenCmd.Flags().BoolVar(&on, "on", false, "turn the siren on instead of off")
	sirenCmd.Flags().IntVar(&durationS, "duration", 0, "turn off automatically after this many seconds")

	floodlightCmd := &cobra.Command{
		Use:   "floodlight",
		Short: "Drive the floodlight manually.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionFloodlight) },
	}
	floodlightCmd.Flags().BoolVar(&on, "on", false, "turn the floodlight on instead of off")
	floodlightCmd.Flags().IntVar(&durationS, "duration", 0, "turn off automatically after this many seconds")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail the daemon's live event stream.",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return run(ctl.ActionWatch) },
	}

	rootCmd.AddCommand(statusCmd, armCmd, disarmCmd, sirenCmd, floodlightCmd, watchCmd)
}
