// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/abnsafita97/dex-api/lib/apktool"
	"github.com/abnsafita97/dex-api/lib/config"
	"github.com/abnsafita97/dex-api/lib/pipeline"
	"github.com/abnsafita97/dex-api/lib/process"
	"github.com/abnsafita97/dex-api/lib/profile"
	"github.com/abnsafita97/dex-api/lib/service"
	"github.com/abnsafita97/dex-api/lib/smali"
	"github.com/abnsafita97/dex-api/lib/version"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the dex-api.yaml config file (default: $DEXAPI_CONFIG)")
	flag.StringVar(&listen, "listen", "", "listen address override")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("dex-api")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger(string(cfg.Environment))

	javaPath, err := cfg.JavaPath()
	if err != nil {
		return err
	}
	apktoolJar, err := cfg.JarPath(cfg.Tools.ApktoolJar)
	if err != nil {
		return err
	}
	baksmaliJar, err := cfg.JarPath(cfg.Tools.BaksmaliJar)
	if err != nil {
		return err
	}
	smaliJar, err := cfg.JarPath(cfg.Tools.SmaliJar)
	if err != nil {
		return err
	}

	manager, err := workspace.NewManager(workspace.Options{
		Root:          cfg.Workspace.Root,
		CleanupGrace:  cfg.CleanupGrace(),
		SweepInterval: cfg.SweepInterval(),
		MaxAge:        cfg.WorkspaceMaxAge(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	go manager.Run(ctx)

	profiles, err := profile.Load(cfg.Protection.ProfileDir)
	if err != nil {
		return err
	}
	if _, err := profiles.Get(cfg.Protection.DefaultProfile); err != nil {
		return fmt.Errorf("protection.default_profile: %w", err)
	}

	tool := apktool.New(javaPath, apktoolJar, cfg.ToolTimeout())
	engine := pipeline.New(pipeline.Options{
		Tool:    tool,
		Manager: manager,
		Logger:  logger,
	})

	server := newServer(serverConfig{
		Logger:           logger,
		Engine:           engine,
		Manager:          manager,
		Profiles:         profiles,
		Baksmali:         smali.NewBaksmali(javaPath, baksmaliJar, cfg.ToolTimeout()),
		Assembler:        smali.NewAssembler(javaPath, smaliJar, cfg.ToolTimeout()),
		JavaPath:         javaPath,
		JavaCheckTimeout: cfg.JavaCheckDuration(),
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		DefaultProfile:   cfg.Protection.DefaultProfile,
		ApktoolVersion:   probeApktool(ctx, tool, cfg.JavaCheckDuration(), logger),
	})

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Server.Listen,
		Handler:         server.routes(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Logger:          logger,
	})

	logger.Info("dex-api starting",
		"version", version.Info(),
		"listen", cfg.Server.Listen,
		"environment", cfg.Environment,
		"workspace_root", manager.Root(),
		"profiles", profiles.Names())

	return httpServer.Serve(ctx)
}

// loadConfig resolves configuration from the --config flag, falling
// back to the DEXAPI_CONFIG environment variable.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// probeApktool fetches the jar's version banner once at startup. A
// broken toolchain should be visible in the logs before the first
// upload arrives, but it is not fatal: /health reports the missing
// banner and the jars may be fixed in place.
func probeApktool(ctx context.Context, tool *apktool.Tool, timeout time.Duration, logger *slog.Logger) string {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	banner, err := tool.Version(probeCtx)
	if err != nil {
		logger.Warn("apktool version probe failed", "error", err)
		return ""
	}
	logger.Info("apktool ready", "version", banner)
	return banner
}
