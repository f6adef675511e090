package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/perimeter-sentinel/internal/api"
	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/gpio"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
	"github.com/oshokin/perimeter-sentinel/internal/machine"
	"github.com/oshokin/perimeter-sentinel/internal/netmon"
	"github.com/oshokin/perimeter-sentinel/internal/queue"
	"github.com/oshokin/perimeter-sentinel/internal/remote"
	"github.com/oshokin/perimeter-sentinel/internal/repository"
	"github.com/oshokin/perimeter-sentinel/internal/timer"
)

// Options controls the perimeter-sentinel daemon process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional override for the local API
	// listen address.
	ListenAddress string
	// Simulated forces the simulated GPIO backend regardless of config.
	Simulated bool
}

// livenessFilename is touched on the liveness interval so an external
// supervisor can detect a wedged daemon.
const livenessFilename = "alive"

// readHeaderTimeout bounds slow local API clients.
const readHeaderTimeout = 5 * time.Second

// Run wires and starts every component of the controller and blocks until
// the context is canceled. Shutdown order is deliberate: drain the local
// API, flush the queue, then force outputs off as the very last act.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sentinel")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		cfg.API.ListenAddress = opts.ListenAddress
	}

	if opts.Simulated {
		cfg.GPIO.Simulated = true
	}

	if level, ok := logger.ParseLogLevel(cfg.System.LogLevel); ok {
		logger.SetLevel(level)
	}

	if err := os.MkdirAll(cfg.System.DataDir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	controller, err := newController(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("initialise gpio: %w", err)
	}

	// The fail-safe contract: whatever takes this process down, outputs
	// go off on the way out, and an unconfirmed cut is fatal.
	defer shutdownOutputs(ctx, controller)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(ctx, "Panic in daemon, forcing outputs off", "panic", r)
			shutdownOutputs(ctx, controller)
			panic(r)
		}
	}()

	store := config.NewStore(cfg)
	statuses := status.NewStore()
	b := bus.New()

	repo := repository.NewAlarmStateRepository(cfg.System.DataDir)

	// Continuity only: the restored state is reported, never re-acted on.
	// Outputs stay off until the state machine commands them.
	restored := repo.LoadAlarmState(ctx)
	statuses.SetAlarmState(restored)

	timers := timer.NewManager(b, cfg.System.ClientID)
	stateMachine := machine.New(statuses, b, timers, controller, store, repo)
	eventQueue := queue.New(ctx, b, filepath.Join(cfg.System.DataDir, "queue"), cfg.Queue, statuses)
	monitor := netmon.New(store, statuses, b, netmon.DefaultSysfsRoot)
	remoteLink := remote.New(store, statuses, b, eventQueue, monitor)
	doorWatcher := gpio.NewWatcher(controller, b, statuses, cfg.GPIO.Debounce, cfg.System.ClientID)

	apiServer := &http.Server{
		Addr:              cfg.API.ListenAddress,
		Handler:           api.NewServer(statuses, b, cfg.System.ClientID).Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.InfoKV(ctx, "Perimeter sentinel starting",
		"client_id", cfg.System.ClientID,
		"restored_state", restored,
		"listen_addr", cfg.API.ListenAddress,
		"simulated_gpio", cfg.GPIO.Simulated)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return stateMachine.Run(gctx) })
	g.Go(func() error { return eventQueue.Run(gctx) })
	g.Go(func() error { return doorWatcher.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return remoteLink.Run(gctx) })
	g.Go(func() error { return serveAPI(gctx, apiServer, store) })
	g.Go(func() error { return touchLiveness(gctx, store) })
	g.Go(func() error { return watchReload(gctx, store, opts.ConfigPath) })

	err = g.Wait()

	// Past this point no producer is running: flush and close the queue,
	// then the deferred fail-safe cuts the outputs.
	eventQueue.Close(ctx)
	timers.CancelAll(ctx)
	b.Close()

	if errors.Is(err, context.Canceled) {
		logger.Info(ctx, "Perimeter sentinel stopped")

		return nil
	}

	return err
}

// newController picks the GPIO backend.
func newController(cfg config.GPIOConfig) (gpio.Controller, error) {
	if cfg.Simulated {
		return gpio.NewSimulated(), nil
	}

	return gpio.NewSysfs(cfg)
}

// shutdownOutputs forces the outputs off and confirms the cut. An output
// that cannot be confirmed off is the one failure this process must not
// survive quietly.
func shutdownOutputs(ctx context.Context, controller gpio.Controller) {
	if err := controller.EmergencyShutdown(); err != nil {
		logger.FatalKV(ctx, "Emergency output shutdown unconfirmed", "error", err)
	}

	_ = controller.Close()
	logger.Info(ctx, "Outputs confirmed off")
}

// serveAPI runs the local HTTP server and drains it on cancellation.
func serveAPI(ctx context.Context, srv *http.Server, store *config.Store) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve local api: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), store.Current().API.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		logger.WarnKV(ctx, "Local API drain timed out, closing", "error", err)
		_ = srv.Close()
	}

	return ctx.Err()
}

// touchLiveness refreshes the liveness file so an external supervisor can
// tell a wedged daemon from a live one.
func touchLiveness(ctx context.Context, store *config.Store) error {
	cfg := store.Current().System
	path := filepath.Join(cfg.DataDir, livenessFilename)

	touch := func() {
		stamp := time.Now().UTC().Format(time.RFC3339)
		if err := os.WriteFile(path, []byte(stamp+"\n"), config.DefaultFilePermissions); err != nil {
			logger.WarnKV(ctx, "Failed to touch liveness file", "path", path, "error", err)
		}
	}

	touch()

	ticker := time.NewTicker(cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			touch()
		}
	}
}

// watchReload re-reads the configuration on SIGHUP and swaps it into the
// shared store. Timer durations and queue bounds apply immediately;
// listen addresses and pin assignments require a restart.
func watchReload(ctx context.Context, store *config.Store, configPath string) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
		}

		fresh, err := config.Load(configPath)
		if err != nil {
			logger.ErrorKV(ctx, "Reload failed, keeping current settings", "error", err)

			continue
		}

		store.Swap(fresh)

		if level, ok := logger.ParseLogLevel(fresh.System.LogLevel); ok {
			logger.SetLevel(level)
		}

		logger.InfoKV(ctx, "Settings reloaded", "path", configPath)
	}
}
