// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	gslog "github.com/ManuGH/genstream/internal/log"
	"gopkg.in/yaml.v3"
)

// Loader builds an AppConfig from defaults, an optional YAML file and the environment.
type Loader struct {
	path string
}

// NewLoader creates a loader. An empty path means environment-only configuration.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path, or "" when none is used.
func (l *Loader) Path() string { return l.path }

// Load merges defaults, file and environment, then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	if l.path != "" {
		if err := mergeFile(&cfg, l.path); err != nil {
			return AppConfig{}, err
		}
	}
	mergeEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	logger := gslog.WithComponent("config")
	logger.Debug().
		Str("path", l.path).
		Str("role", string(cfg.Role)).
		Str("backend", cfg.Store.Backend).
		Msg("configuration loaded")
	return cfg, nil
}

func mergeFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// mergeEnv overlays environment variables. Each current value acts as the default so
// file settings survive when the variable is unset.
func mergeEnv(cfg *AppConfig) {
	cfg.FeatureID = ParseStringWithAlias("GENSTREAM_FEATURE_ID", "FEATURE_ID", cfg.FeatureID)
	cfg.ProducerID = ParseStringWithAlias("GENSTREAM_PRODUCER_ID", "HOSTNAME", cfg.ProducerID)
	cfg.Role = Role(ParseString("GENSTREAM_ROLE", string(cfg.Role)))
	cfg.LogLevel = ParseStringWithAlias("GENSTREAM_LOG_LEVEL", "LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Backend = ParseString("GENSTREAM_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.BadgerPath = ParseString("GENSTREAM_BADGER_PATH", cfg.Store.BadgerPath)
	cfg.Store.TTL = ParseDuration("GENSTREAM_LOG_TTL", cfg.Store.TTL)
	cfg.Store.ReadTimeout = ParseDuration("GENSTREAM_READ_TIMEOUT", cfg.Store.ReadTimeout)
	cfg.Store.BlockSlice = ParseDuration("GENSTREAM_BLOCK_SLICE", cfg.Store.BlockSlice)
	cfg.Store.GCInterval = ParseDuration("GENSTREAM_BADGER_GC_INTERVAL", cfg.Store.GCInterval)

	cfg.Redis.Host = ParseStringWithAlias("GENSTREAM_REDIS_HOST", "REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = ParseIntWithAlias("GENSTREAM_REDIS_PORT", "REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = ParseStringWithAlias("GENSTREAM_REDIS_PASSWORD", "REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("GENSTREAM_REDIS_DB", cfg.Redis.DB)

	cfg.Queue.Name = ParseString("GENSTREAM_QUEUE_NAME", cfg.Queue.Name)
	cfg.Queue.LeaseDuration = ParseDuration("GENSTREAM_LEASE_DURATION", cfg.Queue.LeaseDuration)
	cfg.Queue.MaxAttempts = ParseInt("GENSTREAM_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.ReclaimInterval = ParseDuration("GENSTREAM_RECLAIM_INTERVAL", cfg.Queue.ReclaimInterval)

	cfg.Worker.EventCount = ParseInt("GENSTREAM_EVENT_COUNT", cfg.Worker.EventCount)
	cfg.Worker.EventInterval = ParseDuration("GENSTREAM_EVENT_INTERVAL", cfg.Worker.EventInterval)
	cfg.Worker.MaxJobs = ParseIntWithAlias("GENSTREAM_MAX_JOBS", "MAX_JOBS", cfg.Worker.MaxJobs)
	cfg.Worker.PollInterval = ParseDuration("GENSTREAM_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.Replicas = ParseInt("GENSTREAM_REPLICAS", cfg.Worker.Replicas)
	cfg.Worker.MemoryLimit = int64(ParseInt("GENSTREAM_MEMORY_LIMIT", int(cfg.Worker.MemoryLimit)))

	cfg.Autoscale.Enabled = ParseBool("GENSTREAM_AUTOSCALE_ENABLED", cfg.Autoscale.Enabled)
	cfg.Autoscale.MinReplicas = ParseIntWithAlias("GENSTREAM_MIN_REPLICAS", "MIN_REPLICAS", cfg.Autoscale.MinReplicas)
	cfg.Autoscale.MaxReplicas = ParseIntWithAlias("GENSTREAM_MAX_REPLICAS", "MAX_REPLICAS", cfg.Autoscale.MaxReplicas)
	cfg.Autoscale.CPUThreshold = ParseFloat("GENSTREAM_CPU_THRESHOLD", cfg.Autoscale.CPUThreshold)
	cfg.Autoscale.MemoryThreshold = ParseFloat("GENSTREAM_MEMORY_THRESHOLD", cfg.Autoscale.MemoryThreshold)
	cfg.Autoscale.ScaleUpWindow = ParseDuration("GENSTREAM_SCALE_UP_WINDOW", cfg.Autoscale.ScaleUpWindow)
	cfg.Autoscale.ScaleDownWindow = ParseDuration("GENSTREAM_SCALE_DOWN_WINDOW", cfg.Autoscale.ScaleDownWindow)
	cfg.Autoscale.Cooldown = ParseDuration("GENSTREAM_SCALE_COOLDOWN", cfg.Autoscale.Cooldown)
	cfg.Autoscale.Step = ParseInt("GENSTREAM_SCALE_STEP", cfg.Autoscale.Step)
	cfg.Autoscale.SampleInterval = ParseDuration("GENSTREAM_SAMPLE_INTERVAL", cfg.Autoscale.SampleInterval)

	cfg.Server.ListenAddr = ParseString("GENSTREAM_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.MetricsAddr = ParseString("GENSTREAM_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.RateLimit = ParseInt("GENSTREAM_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.ShutdownTimeout = ParseDuration("GENSTREAM_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	if origins := ParseString("GENSTREAM_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Telemetry.Enabled = ParseBool("GENSTREAM_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("GENSTREAM_TRACING_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseStringWithAlias("GENSTREAM_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("GENSTREAM_TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString("GENSTREAM_ENVIRONMENT", cfg.Telemetry.Environment)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
