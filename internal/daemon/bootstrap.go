// SPDX-License-Identifier: MIT

// Package daemon wires the genstream components from configuration and owns
// their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/genstream/internal/api"
	"github.com/ManuGH/genstream/internal/autoscale"
	"github.com/ManuGH/genstream/internal/config"
	"github.com/ManuGH/genstream/internal/eventlog"
	"github.com/ManuGH/genstream/internal/gateway"
	"github.com/ManuGH/genstream/internal/health"
	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/resilience"
	"github.com/ManuGH/genstream/internal/taskqueue"
	"github.com/ManuGH/genstream/internal/telemetry"
	"github.com/ManuGH/genstream/internal/worker"
)

const serviceName = "genstream"

// Runtime holds the components built from one configuration.
type Runtime struct {
	Config config.AppConfig

	// Redis is nil unless the redis backend is selected.
	Redis *redis.Client
	Store eventlog.Store
	Queue taskqueue.Queue

	Gateway *gateway.Gateway
	API     *api.Server
	Health  *health.Manager

	// Pool is nil when the role runs no workers.
	Pool *worker.Pool
	// Controller is nil when autoscaling is disabled or no workers run.
	Controller *autoscale.Controller

	Telemetry *telemetry.Provider

	logger zerolog.Logger
}

// Bootstrap builds every component the configured role needs. On error all
// resources acquired so far are released.
func Bootstrap(ctx context.Context, cfg config.AppConfig, version string) (rt *Runtime, err error) {
	rt = &Runtime{
		Config: cfg,
		Health: health.NewManager(version, cfg.FeatureID),
		logger: gslog.WithComponent("daemon"),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	rt.Telemetry = rt.initTelemetry(ctx, version)

	if err := rt.openBackends(cfg); err != nil {
		return rt, err
	}

	if cfg.Role.RunsGateway() {
		rt.Gateway = gateway.New(rt.Store, rt.Queue, gateway.Config{ReadTimeout: cfg.Store.ReadTimeout})
		tracingService := ""
		if cfg.Telemetry.Enabled {
			tracingService = serviceName
		}
		rt.API = api.New(rt.Gateway, rt.Health, api.Config{
			FeatureID:      cfg.FeatureID,
			Version:        version,
			RateLimit:      cfg.Server.RateLimit,
			TracingService: tracingService,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})
	}

	if cfg.Role.RunsWorker() {
		if err := rt.buildWorkers(cfg); err != nil {
			return rt, err
		}
	}

	rt.logger.Info().
		Str("role", string(cfg.Role)).
		Str("backend", cfg.Store.Backend).
		Str(gslog.FieldFeatureID, cfg.FeatureID).
		Str(gslog.FieldProducerID, cfg.ProducerID).
		Bool("autoscale", rt.Controller != nil).
		Msg("runtime assembled")
	return rt, nil
}

func (rt *Runtime) initTelemetry(ctx context.Context, version string) *telemetry.Provider {
	tc := rt.Config.Telemetry
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        tc.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    tc.Environment,
		ExporterType:   tc.Exporter,
		Endpoint:       tc.Endpoint,
		SamplingRate:   tc.SamplingRate,
	})
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		return nil
	}
	if tc.Enabled {
		rt.logger.Info().
			Str("exporter", tc.Exporter).
			Str("endpoint", tc.Endpoint).
			Float64("sampling_rate", tc.SamplingRate).
			Msg("Telemetry initialized")
	}
	return provider
}

// openBackends opens the event log and the task queue. The queue lives next
// to the log: Redis for the redis backend, in-process otherwise.
func (rt *Runtime) openBackends(cfg config.AppConfig) error {
	if cfg.Store.Backend == eventlog.BackendRedis {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	store, err := eventlog.Open(eventlog.Options{
		Backend:    cfg.Store.Backend,
		TTL:        cfg.Store.TTL,
		BlockSlice: cfg.Store.BlockSlice,
		Redis:      rt.Redis,
		BadgerPath: cfg.Store.BadgerPath,
		Logger:     gslog.WithComponent("badger"),
	})
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	rt.Store = store

	queueOpts := []taskqueue.Option{
		taskqueue.WithName(cfg.Queue.Name),
		taskqueue.WithMaxAttempts(cfg.Queue.MaxAttempts),
	}
	if rt.Redis != nil {
		rt.Queue = taskqueue.NewRedisQueue(rt.Redis, queueOpts...)
	} else {
		rt.Queue = taskqueue.NewMemoryQueue(queueOpts...)
	}

	rt.registerChecks()
	return nil
}

type breakerOwner interface {
	Breaker() *resilience.CircuitBreaker
}

func (rt *Runtime) registerChecks() {
	if p, ok := rt.Store.(health.Pinger); ok {
		rt.Health.RegisterChecker(health.NewPingChecker("eventlog", p))
	} else {
		rt.Health.RegisterChecker(health.NewStaticChecker("eventlog", health.CheckResult{
			Status:  health.StatusHealthy,
			Message: rt.Config.Store.Backend + " backend in process",
		}))
	}

	if p, ok := rt.Queue.(health.Pinger); ok {
		rt.Health.RegisterChecker(health.NewPingChecker("taskqueue", p))
	} else {
		queue := rt.Queue
		rt.Health.RegisterChecker(health.NewFuncChecker("taskqueue", func(ctx context.Context) health.CheckResult {
			s, err := queue.Stats(ctx)
			if err != nil {
				return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
			}
			return health.CheckResult{
				Status:  health.StatusHealthy,
				Message: fmt.Sprintf("pending=%d leased=%d dead=%d", s.Pending, s.Leased, s.Dead),
			}
		}))
	}

	for _, c := range []any{rt.Store, rt.Queue} {
		if b, ok := c.(breakerOwner); ok {
			rt.Health.RegisterChecker(health.NewBreakerChecker(b.Breaker()))
		}
	}
}

func (rt *Runtime) buildWorkers(cfg config.AppConfig) error {
	w := worker.New(rt.Store, rt.Queue, worker.Config{
		ProducerID:    cfg.ProducerID,
		FeatureID:     cfg.FeatureID,
		EventCount:    cfg.Worker.EventCount,
		EventInterval: cfg.Worker.EventInterval,
		LeaseDuration: cfg.Queue.LeaseDuration,
	})

	replicas := initialReplicas(cfg)
	rt.Pool = worker.NewPool(w, rt.Queue, worker.PoolConfig{
		Replicas:        replicas,
		MaxJobs:         cfg.Worker.MaxJobs,
		PollInterval:    cfg.Worker.PollInterval,
		ReclaimInterval: cfg.Queue.ReclaimInterval,
		LeaseDuration:   cfg.Queue.LeaseDuration,
		MemoryLimit:     uint64(max(cfg.Worker.MemoryLimit, 0)),
	})

	if !cfg.Autoscale.Enabled {
		return nil
	}
	ac := cfg.Autoscale
	ctrl, err := autoscale.NewController(rt.Pool, rt.Pool, policyFor(ac),
		ac.MinReplicas, ac.MaxReplicas, replicas,
		autoscale.WithSampleInterval(ac.SampleInterval))
	if err != nil {
		return fmt.Errorf("build autoscaler: %w", err)
	}
	rt.Controller = ctrl
	return nil
}

// initialReplicas is the configured count, or the autoscaler floor when the
// count is left at zero.
func initialReplicas(cfg config.AppConfig) int {
	n := cfg.Worker.Replicas
	if !cfg.Autoscale.Enabled {
		return n
	}
	if n == 0 {
		n = cfg.Autoscale.MinReplicas
	}
	return min(max(n, cfg.Autoscale.MinReplicas), cfg.Autoscale.MaxReplicas)
}

func policyFor(ac config.AutoscaleConfig) autoscale.Policy {
	return autoscale.NewPolicy(
		autoscale.WithCPUThreshold(ac.CPUThreshold),
		autoscale.WithMemoryThreshold(ac.MemoryThreshold),
		autoscale.WithScaleUpWindow(ac.ScaleUpWindow),
		autoscale.WithScaleDownWindow(ac.ScaleDownWindow),
		autoscale.WithCooldown(ac.Cooldown),
		autoscale.WithStep(ac.Step),
	)
}

// NewManager builds the server Manager for the runtime's role. Worker-only
// processes keep the metrics listener and skip the API listener.
func (rt *Runtime) NewManager() (Manager, error) {
	srv := rt.Config.Server
	deps := Deps{
		Logger:         rt.logger,
		MetricsHandler: api.MetricsHandler(),
	}
	if rt.API != nil {
		deps.APIHandler = rt.API.Handler()
	} else {
		srv.ListenAddr = ""
	}
	return NewManager(srv, deps)
}

// Close releases the backends and flushes traces. Safe on a partial runtime.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event log: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.Telemetry != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rt.Telemetry.Shutdown(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
