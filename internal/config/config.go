// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads genstream settings from defaults, an optional YAML file and the
// environment, in that order of increasing precedence.
package config

import (
	"net"
	"strconv"
	"time"
)

// Role selects which halves of the system a process runs.
type Role string

const (
	RoleAll     Role = "all"
	RoleGateway Role = "gateway"
	RoleWorker  Role = "worker"
)

// RunsGateway reports whether the HTTP gateway is served.
func (r Role) RunsGateway() bool { return r == RoleAll || r == RoleGateway }

// RunsWorker reports whether the worker pool and autoscaler run.
func (r Role) RunsWorker() bool { return r == RoleAll || r == RoleWorker }

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	FeatureID  string `yaml:"featureId"`
	ProducerID string `yaml:"producerId"`
	Role       Role   `yaml:"role"`
	LogLevel   string `yaml:"logLevel"`

	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Autoscale AutoscaleConfig `yaml:"autoscale"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig configures the event log.
type StoreConfig struct {
	Backend     string        `yaml:"backend"` // redis, memory or badger
	BadgerPath  string        `yaml:"badgerPath"`
	TTL         time.Duration `yaml:"ttl"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	BlockSlice  time.Duration `yaml:"blockSlice"`
	GCInterval  time.Duration `yaml:"gcInterval"`
}

// RedisConfig addresses the shared Redis used by the event log and the task queue.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// QueueConfig configures task admission and leasing.
type QueueConfig struct {
	Name            string        `yaml:"name"`
	LeaseDuration   time.Duration `yaml:"leaseDuration"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	ReclaimInterval time.Duration `yaml:"reclaimInterval"`
}

// WorkerConfig configures event production and the replica pool.
type WorkerConfig struct {
	EventCount    int           `yaml:"eventCount"`
	EventInterval time.Duration `yaml:"eventInterval"`
	MaxJobs       int           `yaml:"maxJobs"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	Replicas      int           `yaml:"replicas"`
	MemoryLimit   int64         `yaml:"memoryLimit"` // bytes, 0 uses GOMEMLIMIT
}

// AutoscaleConfig configures the replica controller.
type AutoscaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MinReplicas     int           `yaml:"minReplicas"`
	MaxReplicas     int           `yaml:"maxReplicas"`
	CPUThreshold    float64       `yaml:"cpuThreshold"`
	MemoryThreshold float64       `yaml:"memoryThreshold"`
	ScaleUpWindow   time.Duration `yaml:"scaleUpWindow"`
	ScaleDownWindow time.Duration `yaml:"scaleDownWindow"`
	Cooldown        time.Duration `yaml:"cooldown"`
	Step            int           `yaml:"step"`
	SampleInterval  time.Duration `yaml:"sampleInterval"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	RateLimit       int           `yaml:"rateLimit"` // requests per minute per client IP, 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"` // WebSocket origin patterns
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		FeatureID:  "default",
		ProducerID: "unknown",
		Role:       RoleAll,
		LogLevel:   "info",
		Store: StoreConfig{
			Backend:     "redis",
			BadgerPath:  "data/eventlog",
			TTL:         60 * time.Second,
			ReadTimeout: 30 * time.Second,
			BlockSlice:  time.Second,
			GCInterval:  5 * time.Minute,
		},
		Redis: RedisConfig{
			Host: "redis",
			Port: 6379,
		},
		Queue: QueueConfig{
			Name:            "genstream:queue",
			LeaseDuration:   60 * time.Second,
			MaxAttempts:     3,
			ReclaimInterval: 5 * time.Second,
		},
		Worker: WorkerConfig{
			EventCount:    20,
			EventInterval: time.Second,
			MaxJobs:       10,
			PollInterval:  500 * time.Millisecond,
			Replicas:      1,
		},
		Autoscale: AutoscaleConfig{
			Enabled:         true,
			MinReplicas:     1,
			MaxReplicas:     10,
			CPUThreshold:    0.7,
			MemoryThreshold: 0.8,
			ScaleUpWindow:   30 * time.Second,
			ScaleDownWindow: 300 * time.Second,
			Cooldown:        60 * time.Second,
			Step:            1,
			SampleInterval:  15 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:      ":8000",
			MetricsAddr:     ":9090",
			RateLimit:       600,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
