// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/genstream/internal/config"
	"github.com/ManuGH/genstream/internal/eventlog"
	gslog "github.com/ManuGH/genstream/internal/log"
)

// App owns the long-lived runtime lifecycle (worker pool, autoscaler, config
// reload wiring) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	runtime      *Runtime
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, rt *Runtime) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		runtime:      rt,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.runtime != nil {
		// Registered first so it runs last.
		a.manager.RegisterShutdownHook("runtime", a.runtime.Close)
		a.startBackground(ctx, g)
	}

	if a.cfgHolder != nil {
		a.startConfigReload(ctx, g)
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// startBackground runs the worker pool, its autoscaler and the Badger GC
// on a context the shutdown sequence cancels and waits out before the
// backends are closed.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group) {
	rt := a.runtime
	bgCtx, stop := context.WithCancel(ctx)
	var tasks []func(context.Context) error

	if rt.Pool != nil {
		tasks = append(tasks, rt.Pool.Run)
		if rt.Controller != nil {
			tasks = append(tasks, rt.Controller.Run)
		}
	}
	if bs, ok := rt.Store.(*eventlog.BadgerStore); ok {
		every := rt.Config.Store.GCInterval
		tasks = append(tasks, func(ctx context.Context) error {
			bs.RunGC(ctx, every)
			return nil
		})
	}
	if len(tasks) == 0 {
		stop()
		return
	}

	done := make(chan struct{}, len(tasks))
	for _, task := range tasks {
		g.Go(func() error {
			defer func() { done <- struct{}{} }()
			return task(bgCtx)
		})
	}

	a.manager.RegisterShutdownHook("background", func(shutdownCtx context.Context) error {
		stop()
		for range tasks {
			select {
			case <-done:
			case <-shutdownCtx.Done():
				return shutdownCtx.Err()
			}
		}
		return nil
	})
}

func (a *App) startConfigReload(ctx context.Context, g *errgroup.Group) {
	// The watcher is best-effort: a failure leaves SIGHUP as the reload path.
	g.Go(func() error {
		if err := a.cfgHolder.Watch(ctx); err != nil {
			a.logger.Warn().Err(err).Str(gslog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		return nil
	})

	applyCh := make(chan config.AppConfig, 1)
	a.cfgHolder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-applyCh:
				a.applyConfig(cfg)
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.logger.Info().
					Str(gslog.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")

				if err := a.cfgHolder.Reload(ctx); err != nil {
					a.logger.Warn().
						Err(err).
						Str(gslog.FieldEvent, "config.reload_failed").
						Msg("config reload failed")
				}
			}
		}
	})
}

// applyConfig hot-applies the settings that do not need a restart: the log
// level and the autoscaler policy and bounds.
func (a *App) applyConfig(cfg config.AppConfig) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
		a.logger.Info().Str("level", lvl.String()).Msg("log level applied")
	}

	if a.runtime == nil || a.runtime.Controller == nil {
		return
	}
	ac := cfg.Autoscale
	if !ac.Enabled {
		a.logger.Warn().
			Str(gslog.FieldEvent, "config.restart_required").
			Msg("disabling the autoscaler requires a restart")
		return
	}
	if err := a.runtime.Controller.Reconfigure(policyFor(ac), ac.MinReplicas, ac.MaxReplicas); err != nil {
		a.logger.Warn().Err(err).Str(gslog.FieldEvent, "autoscale.reconfigure_failed").Msg("autoscale policy not applied")
		return
	}
	a.logger.Info().
		Str(gslog.FieldEvent, "autoscale.reconfigured").
		Int("min", ac.MinReplicas).
		Int("max", ac.MaxReplicas).
		Float64("cpu_threshold", ac.CPUThreshold).
		Float64("memory_threshold", ac.MemoryThreshold).
		Msg("autoscale policy applied")
}
