// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// dexpatch runs the patch pipeline on one package from the command
// line, without the HTTP server. It shares the server's toolchain
// configuration: --config names a dex-api.yaml, DEXAPI_CONFIG is the
// fallback, and without either the built-in defaults apply (java on
// PATH, jars in /usr/local/bin).
//
// The protected bundle is written to --out and the workspace is
// removed as soon as the copy lands. On success the bundle digest and
// output path are printed to stdout, checksum style.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/abnsafita97/dex-api/lib/apktool"
	"github.com/abnsafita97/dex-api/lib/config"
	"github.com/abnsafita97/dex-api/lib/digest"
	"github.com/abnsafita97/dex-api/lib/pipeline"
	"github.com/abnsafita97/dex-api/lib/process"
	"github.com/abnsafita97/dex-api/lib/profile"
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
		apkPath     string
		outPath     string
		profileName string
		configPath  string
		entryClass  string
		strategy    string
		verbose     bool
	)

	flagSet := pflag.NewFlagSet("dexpatch", pflag.ContinueOnError)
	flagSet.StringVar(&apkPath, "apk", "", "package to protect (required)")
	flagSet.StringVar(&outPath, "out", "", "bundle output path (default: <apk>-protected.zip)")
	flagSet.StringVar(&profileName, "profile", "", "protection profile name (default: from config)")
	flagSet.StringVar(&configPath, "config", "", "path to the dex-api.yaml config file (default: $DEXAPI_CONFIG, then built-ins)")
	flagSet.StringVar(&entryClass, "entry-class", "", "override the profile's entry class")
	flagSet.StringVar(&strategy, "strategy", "", `override the profile's strategy ("class" or "call")`)
	flagSet.BoolVar(&verbose, "verbose", false, "log each pipeline stage")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("dexpatch")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if apkPath == "" {
		return fmt.Errorf("--apk is required")
	}
	if outPath == "" {
		outPath = strings.TrimSuffix(apkPath, filepath.Ext(apkPath)) + "-protected.zip"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	prof, err := resolveProfile(cfg, profileName, entryClass, strategy)
	if err != nil {
		return err
	}

	javaPath, err := cfg.JavaPath()
	if err != nil {
		return err
	}
	apktoolJar, err := cfg.JarPath(cfg.Tools.ApktoolJar)
	if err != nil {
		return err
	}

	manager, err := workspace.NewManager(workspace.Options{
		Root:   cfg.Workspace.Root,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	engine := pipeline.New(pipeline.Options{
		Tool:    apktool.New(javaPath, apktoolJar, cfg.ToolTimeout()),
		Manager: manager,
		Logger:  logger,
	})

	ws, err := manager.Create(workspace.KindProtect)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, pipeline.Request{
		Workspace: ws,
		APKPath:   apkPath,
		Profile:   prof,
	})
	if err != nil {
		// The engine removed the workspace on its way out.
		return err
	}

	copyErr := copyFile(result.BundlePath, outPath)
	if err := manager.Destroy(ws.ID); err != nil {
		logger.Warn("workspace cleanup", "job", ws.ID, "error", err)
	}
	if copyErr != nil {
		return fmt.Errorf("writing %s: %w", outPath, copyErr)
	}

	fmt.Printf("%s  %s\n", digest.Format(result.BundleDigest), outPath)
	return nil
}

// loadConfig resolves configuration for a one-shot run: an explicit
// --config path, then DEXAPI_CONFIG, then the built-in defaults. The
// server insists on an explicit config; a local CLI run should work
// on a stock toolchain install without one.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("DEXAPI_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// resolveProfile loads the named profile and applies flag overrides,
// re-validating the result so an override cannot smuggle in a broken
// combination.
func resolveProfile(cfg *config.Config, name, entryClass, strategy string) (*profile.Profile, error) {
	profiles, err := profile.Load(cfg.Protection.ProfileDir)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = cfg.Protection.DefaultProfile
	}
	base, err := profiles.Get(name)
	if err != nil {
		return nil, err
	}

	if entryClass == "" && strategy == "" {
		return base, nil
	}
	overridden := *base
	if entryClass != "" {
		overridden.EntryClass = entryClass
	}
	if strategy != "" {
		overridden.Strategy = profile.Strategy(strategy)
	}
	if problems := profile.Validate(&overridden); len(problems) > 0 {
		return nil, fmt.Errorf("profile %s with overrides: %s", name, strings.Join(problems, "; "))
	}
	return &overridden, nil
}

func copyFile(sourcePath, destinationPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(destinationPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `dexpatch inserts the protection bootstrap into an Android package.

Decodes the package, rewrites its application entry, injects the
bootstrap class or call per the selected profile, re-assembles it, and
writes the minimal patch bundle (classes*.dex plus the descriptor).

Usage:
  dexpatch --apk app.apk [flags]

Examples:
  # Protect with the default profile
  dexpatch --apk app.apk

  # Name the output and the profile
  dexpatch --apk app.apk --out app-safe.zip --profile default

  # Override the entry class on top of the profile
  dexpatch --apk app.apk --entry-class com.example.Boot --strategy call

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
