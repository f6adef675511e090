package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// Action selects what the control client does.
type Action string

// Control actions.
const (
	ActionStatus     Action = "status"
	ActionArm        Action = "arm"
	ActionDisarm     Action = "disarm"
	ActionSiren      Action = "siren"
	ActionFloodlight Action = "floodlight"
	ActionWatch      Action = "watch"
)

// Options configures one control invocation.
type Options struct {
	// ServerAddress is the daemon's local API address (host:port).
	ServerAddress string
	// Action is the operation to perform.
	Action Action
	// On is the requested output level for siren and floodlight actions.
	On bool
	// DurationS bounds how long the output stays on.
	DurationS int
	// ExitDelayS overrides the exit delay for the arm action.
	ExitDelayS int
	// AutoRearmS overrides the auto-rearm delay for the disarm action.
	AutoRearmS int
}

// Run performs one control action against the daemon and prints the
// result as JSON on stdout.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sentinel-ctl")

	client, err := NewClient(opts.ServerAddress)
	if err != nil {
		return err
	}

	switch opts.Action {
	case ActionStatus:
		snap, err := client.Status(ctx)
		if err != nil {
			return err
		}

		return printJSON(snap)
	case ActionArm:
		result, err := client.Arm(ctx, opts.ExitDelayS)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Arm accepted", "event_id", result.EventID)

		return printJSON(result)
	case ActionDisarm:
		result, err := client.Disarm(ctx, opts.AutoRearmS)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Disarm accepted", "event_id", result.EventID)

		return printJSON(result)
	case ActionSiren:
		result, err := client.Siren(ctx, opts.On, opts.DurationS)
		if err != nil {
			return err
		}

		return printJSON(result)
	case ActionFloodlight:
		result, err := client.Floodlight(ctx, opts.On, opts.DurationS)
		if err != nil {
			return err
		}

		return printJSON(result)
	case ActionWatch:
		logger.InfoKV(ctx, "Watching daemon events", "address", opts.ServerAddress)

		return client.WatchEvents(ctx, func(raw []byte) {
			fmt.Fprintln(os.Stdout, string(raw))
		})
	default:
		return fmt.Errorf("unknown action %q", opts.Action)
	}
}

// printJSON writes v to stdout with indentation.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("render output: %w", err)
	}

	fmt.Fprintln(os.Stdout, string(out))

	return nil
}
