// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/rs/zerolog"
)

// lookupEnv returns the first non-empty variable among key and its aliases.
// The primary key wins over aliases.
func lookupEnv(key string, aliases ...string) (name, value string, ok bool) {
	for _, k := range append([]string{key}, aliases...) {
		if k == "" {
			continue
		}
		if v, exists := os.LookupEnv(k); exists && v != "" {
			return k, v, true
		}
	}
	return key, "", false
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "token") || strings.Contains(lower, "password") || strings.Contains(lower, "secret")
}

func logDefault(logger zerolog.Logger, key string, def any) {
	logger.Debug().
		Str("key", key).
		Interface("default", def).
		Str("source", "default").
		Msg("using default value")
}

func logEnv(logger zerolog.Logger, name string, value any) {
	evt := logger.Debug().Str("key", name).Str("source", "environment")
	if isSensitive(name) {
		evt = evt.Bool("sensitive", true)
	} else {
		evt = evt.Interface("value", value)
	}
	evt.Msg("using environment variable")
}

func logInvalid(logger zerolog.Logger, name, raw, kind string, def any) {
	evt := logger.Warn().Str("key", name)
	if !isSensitive(name) {
		evt = evt.Str("value", raw)
	}
	evt.Interface("default", def).Msg("invalid " + kind + " in environment variable, using default")
}

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return ParseStringWithAlias(key, "", defaultValue)
}

// ParseStringWithAlias is ParseString with a fallback variable name.
func ParseStringWithAlias(key, alias, defaultValue string) string {
	logger := gslog.WithComponent("config")
	name, v, ok := lookupEnv(key, alias)
	if !ok {
		logDefault(logger, key, defaultValue)
		return defaultValue
	}
	logEnv(logger, name, v)
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return ParseIntWithAlias(key, "", defaultValue)
}

// ParseIntWithAlias is ParseInt with a fallback variable name.
func ParseIntWithAlias(key, alias string, defaultValue int) int {
	logger := gslog.WithComponent("config")
	name, v, ok := lookupEnv(key, alias)
	if !ok {
		logDefault(logger, key, defaultValue)
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logInvalid(logger, name, v, "integer", defaultValue)
		return defaultValue
	}
	logEnv(logger, name, i)
	return i
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := gslog.WithComponent("config")
	name, v, ok := lookupEnv(key)
	if !ok {
		logDefault(logger, key, defaultValue.String())
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logInvalid(logger, name, v, "duration", defaultValue.String())
		return defaultValue
	}
	logEnv(logger, name, d.String())
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := gslog.WithComponent("config")
	name, v, ok := lookupEnv(key)
	if !ok {
		logDefault(logger, key, defaultValue)
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		logEnv(logger, name, true)
		return true
	case "false", "0", "no":
		logEnv(logger, name, false)
		return false
	default:
		logInvalid(logger, name, v, "boolean", defaultValue)
		return defaultValue
	}
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := gslog.WithComponent("config")
	name, v, ok := lookupEnv(key)
	if !ok {
		logDefault(logger, key, defaultValue)
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logInvalid(logger, name, v, "float", defaultValue)
		return defaultValue
	}
	logEnv(logger, name, f)
	return f
}
