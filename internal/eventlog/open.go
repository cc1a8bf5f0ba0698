// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend    string
	TTL        time.Duration
	BlockSlice time.Duration
	// Redis is required for the redis backend.
	Redis redis.UniversalClient
	// BadgerPath is the database directory; empty runs in memory.
	BadgerPath string
	Logger     zerolog.Logger
}

// Open creates the configured Store.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis event log requires a client")
		}
		return NewRedisStore(opts.Redis, RedisConfig{TTL: opts.TTL, BlockSlice: opts.BlockSlice}), nil
	case BackendMemory, "":
		return NewMemoryStore(opts.TTL), nil
	case BackendBadger:
		return OpenBadgerStore(opts.BadgerPath, opts.TTL, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown event log backend: %s", opts.Backend)
	}
}
