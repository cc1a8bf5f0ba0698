// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command genstreamd runs the stream gateway, the worker pool and the
// autoscaler, together or split by role.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/genstream/internal/config"
	"github.com/ManuGH/genstream/internal/daemon"
	gslog "github.com/ManuGH/genstream/internal/log"
	"github.com/ManuGH/genstream/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML); defaults to $GENSTREAM_CONFIG")
	role := flag.String("role", "", "process role: all, gateway or worker (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	gslog.Configure(gslog.Config{
		Level:   "info",
		Service: "genstream",
		Version: version.Version,
	})
	logger := gslog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path)
	cfg, err := loadWithRole(loader, *role)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(gslog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	gslog.Configure(gslog.Config{
		Level:   cfg.LogLevel,
		Service: "genstream",
		Version: version.Version,
	})
	logger = gslog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(gslog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("config_source", source).
		Str("role", string(cfg.Role)).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting genstream")

	rt, err := daemon.Bootstrap(ctx, cfg, version.Version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(gslog.FieldEvent, "bootstrap.failed").
			Msg("failed to assemble runtime")
	}

	mgr, err := rt.NewManager()
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Fatal().
			Err(err).
			Str(gslog.FieldEvent, "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	var holder *config.Holder
	if path != "" {
		holder = config.NewHolder(cfg, loader)
	}

	app := daemon.NewApp(logger, mgr, holder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(gslog.FieldEvent, "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv("GENSTREAM_CONFIG"))
}

// loadWithRole loads the configuration and applies the --role override,
// which outranks both file and environment.
func loadWithRole(loader *config.Loader, role string) (config.AppConfig, error) {
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, err
	}
	if role = strings.TrimSpace(role); role == "" {
		return cfg, nil
	}
	cfg.Role = config.Role(role)
	if err := config.Validate(cfg); err != nil {
		return config.AppConfig{}, err
	}
	return cfg, nil
}
