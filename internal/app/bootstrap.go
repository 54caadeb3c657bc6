package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"nodelabels/internal/config"
	"nodelabels/internal/metrics"
	"nodelabels/internal/reconciler"
	"nodelabels/pkg/logging"
)

// Application bootstraps and runs the operator.
//
// Initialization is two-phase: NewApplication resolves configuration and
// wires every component, Run starts them and blocks until shutdown. Nothing
// touches the cluster until Run.
type Application struct {
	config     config.Config
	components *Components
}

// NewApplication performs the bootstrap sequence: initialize logging, resolve
// the watch mode, and wire the store, patcher, detector, reconciler, manager,
// and metrics exporter.
func NewApplication(cfg config.Config) (*Application, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	cfg.LogStartup()

	components, err := initializeComponents(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize components")
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return &Application{
		config:     cfg,
		components: components,
	}, nil
}

// Run starts the manager and the metrics exporter and blocks until a signal
// arrives or a component fails. Shutdown order matters: the manager stops
// first so in-flight reconciliations finish before the process exits, then
// the exporter is drained.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.components.Manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciliation manager: %w", err)
	}

	// Converge immediately instead of waiting out the first interval.
	a.components.Manager.TriggerSweep()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.components.Exporter.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return a.components.Manager.Stop()
	})

	logging.Info("App", "Operator running (prefix %s, resync %v). Press Ctrl+C to stop.",
		a.config.LabelPrefix, a.config.ResyncInterval)

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logging.Info("App", "Shutdown complete")
	return nil
}

// Sink exposes the application's metrics sink, mainly for tests.
func (a *Application) Sink() *metrics.Sink {
	return a.components.Sink
}

// Manager exposes the reconciliation manager, mainly for tests.
func (a *Application) Manager() *reconciler.Manager {
	return a.components.Manager
}
