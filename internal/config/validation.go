// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/genstream/internal/validate"
)

// Validate checks cfg and reports every failing field at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("featureId", cfg.FeatureID)
	v.NotEmpty("producerId", cfg.ProducerID)
	v.OneOf("role", string(cfg.Role), []string{string(RoleAll), string(RoleGateway), string(RoleWorker)})
	v.OneOf("logLevel", cfg.LogLevel, validate.LogLevelValues())

	v.OneOf("store.backend", cfg.Store.Backend, []string{"redis", "memory", "badger"})
	v.PositiveDuration("store.ttl", cfg.Store.TTL)
	v.PositiveDuration("store.readTimeout", cfg.Store.ReadTimeout)
	v.MinDuration("store.blockSlice", cfg.Store.BlockSlice, time.Millisecond)
	if cfg.Store.Backend == "badger" {
		v.Directory("store.badgerPath", cfg.Store.BadgerPath, false)
		v.PositiveDuration("store.gcInterval", cfg.Store.GCInterval)
	}

	// The task queue follows the log: Redis for the redis backend, in-process otherwise.
	if cfg.usesRedis() {
		v.NotEmpty("redis.host", cfg.Redis.Host)
		v.Port("redis.port", cfg.Redis.Port)
		v.Range("redis.db", cfg.Redis.DB, 0, 15)
	}
	// Split roles run in separate processes and can only meet in Redis.
	if cfg.Role != RoleAll && cfg.Role != "" && !cfg.usesRedis() {
		v.AddError("store.backend", fmt.Sprintf("role %q requires the redis backend", cfg.Role), cfg.Store.Backend)
	}

	v.NotEmpty("queue.name", cfg.Queue.Name)
	v.PositiveDuration("queue.leaseDuration", cfg.Queue.LeaseDuration)
	v.Range("queue.maxAttempts", cfg.Queue.MaxAttempts, 1, 100)
	v.PositiveDuration("queue.reclaimInterval", cfg.Queue.ReclaimInterval)

	v.Positive("worker.eventCount", cfg.Worker.EventCount)
	v.PositiveDuration("worker.eventInterval", cfg.Worker.EventInterval)
	v.Range("worker.maxJobs", cfg.Worker.MaxJobs, 1, 1000)
	v.PositiveDuration("worker.pollInterval", cfg.Worker.PollInterval)
	v.NonNegative("worker.replicas", cfg.Worker.Replicas)
	if cfg.Worker.MemoryLimit < 0 {
		v.AddError("worker.memoryLimit", "value cannot be negative", cfg.Worker.MemoryLimit)
	}
	// A lease shorter than one event interval expires between renewals.
	if cfg.Queue.LeaseDuration > 0 && cfg.Queue.LeaseDuration <= cfg.Worker.EventInterval {
		v.AddError("queue.leaseDuration",
			fmt.Sprintf("must exceed worker.eventInterval (%s)", cfg.Worker.EventInterval),
			cfg.Queue.LeaseDuration)
	}

	validateAutoscale(v, cfg.Autoscale, cfg.Worker.Replicas)

	if cfg.Role.RunsGateway() {
		v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	}
	if cfg.Server.MetricsAddr != "" {
		v.ListenAddr("server.metricsAddr", cfg.Server.MetricsAddr)
	}
	v.NonNegative("server.rateLimit", cfg.Server.RateLimit)
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "value must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}

func validateAutoscale(v *validate.Validator, a AutoscaleConfig, replicas int) {
	v.Positive("autoscale.minReplicas", a.MinReplicas)
	v.Positive("autoscale.maxReplicas", a.MaxReplicas)
	if a.MinReplicas > a.MaxReplicas {
		v.AddError("autoscale.minReplicas",
			fmt.Sprintf("must not exceed autoscale.maxReplicas (%d)", a.MaxReplicas), a.MinReplicas)
	}
	if !a.Enabled {
		return
	}
	if replicas != 0 && (replicas < a.MinReplicas || replicas > a.MaxReplicas) {
		v.AddError("worker.replicas",
			fmt.Sprintf("must be within [%d, %d] when autoscaling", a.MinReplicas, a.MaxReplicas), replicas)
	}
	v.Fraction("autoscale.cpuThreshold", a.CPUThreshold)
	v.Fraction("autoscale.memoryThreshold", a.MemoryThreshold)
	v.PositiveDuration("autoscale.scaleUpWindow", a.ScaleUpWindow)
	v.PositiveDuration("autoscale.scaleDownWindow", a.ScaleDownWindow)
	if a.Cooldown < 0 {
		v.AddError("autoscale.cooldown", "duration cannot be negative", a.Cooldown)
	}
	v.Positive("autoscale.step", a.Step)
	v.PositiveDuration("autoscale.sampleInterval", a.SampleInterval)
}

func (c AppConfig) usesRedis() bool {
	return c.Store.Backend == "redis"
}
