// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for dex-api.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Server configures the HTTP front-end.
	Server ServerConfig `yaml:"server"`

	// Tools configures the external JVM toolchain.
	Tools ToolsConfig `yaml:"tools"`

	// Workspace configures per-job working directories.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Protection configures injection profiles.
	Protection ProtectionConfig `yaml:"protection"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server     *ServerConfig     `yaml:"server,omitempty"`
	Tools      *ToolsConfig      `yaml:"tools,omitempty"`
	Workspace  *WorkspaceConfig  `yaml:"workspace,omitempty"`
	Protection *ProtectionConfig `yaml:"protection,omitempty"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	// Listen is the address the HTTP server binds to.
	// Default: :5000
	Listen string `yaml:"listen"`

	// MaxUploadBytes caps the size of an uploaded package.
	// Default: 100 MiB
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	// Default: 10s
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ToolsConfig configures the external JVM toolchain. The three jars
// do all the real work: apktool decodes and rebuilds whole packages,
// baksmali and smali translate individual dex files.
type ToolsConfig struct {
	// Java is the JVM binary. A bare name is resolved via PATH.
	// Default: java
	Java string `yaml:"java"`

	// JarDir is where the tool jars are installed. This provides
	// hermetic jar paths independent of the working directory.
	// Default: /usr/local/bin
	JarDir string `yaml:"jar_dir"`

	// ApktoolJar, BaksmaliJar, and SmaliJar name the jar files.
	// Bare names are resolved against JarDir; absolute paths are
	// used as-is.
	ApktoolJar  string `yaml:"apktool_jar"`
	BaksmaliJar string `yaml:"baksmali_jar"`
	SmaliJar    string `yaml:"smali_jar"`

	// Timeout bounds a single tool invocation.
	// Default: 5m
	Timeout string `yaml:"timeout"`

	// JavaCheckTimeout bounds the java -version probe.
	// Default: 5s
	JavaCheckTimeout string `yaml:"java_check_timeout"`
}

// WorkspaceConfig configures per-job working directories.
type WorkspaceConfig struct {
	// Root is the directory job workspaces are created under.
	// Default: ${TMPDIR}/dex-api
	Root string `yaml:"root"`

	// CleanupGrace is how long a successful job's workspace lingers
	// before deletion, so the response can be streamed from it.
	// Default: 30s
	CleanupGrace string `yaml:"cleanup_grace"`

	// SweepInterval is how often the orphan sweep runs.
	// Default: 10m
	SweepInterval string `yaml:"sweep_interval"`

	// MaxAge is the age past which an orphaned workspace is reaped
	// by the sweep.
	// Default: 1h
	MaxAge string `yaml:"max_age"`
}

// ProtectionConfig configures injection profiles.
type ProtectionConfig struct {
	// ProfileDir is the directory holding *.jsonc protection
	// profiles. Empty means only the built-in default profile is
	// available.
	ProfileDir string `yaml:"profile_dir"`

	// DefaultProfile names the profile used when a request does not
	// select one.
	// Default: default
	DefaultProfile string `yaml:"default_profile"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required for deployments.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Listen:          ":5000",
			MaxUploadBytes:  100 << 20,
			ShutdownTimeout: "10s",
		},
		Tools: ToolsConfig{
			Java:             "java",
			JarDir:           "/usr/local/bin",
			ApktoolJar:       "apktool.jar",
			BaksmaliJar:      "baksmali.jar",
			SmaliJar:         "smali.jar",
			Timeout:          "5m",
			JavaCheckTimeout: "5s",
		},
		Workspace: WorkspaceConfig{
			Root:          filepath.Join(os.TempDir(), "dex-api"),
			CleanupGrace:  "30s",
			SweepInterval: "10m",
			MaxAge:        "1h",
		},
		Protection: ProtectionConfig{
			ProfileDir:     "",
			DefaultProfile: "default",
		},
	}
}

// Load loads configuration from the DEXAPI_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if DEXAPI_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("DEXAPI_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DEXAPI_CONFIG environment variable not set; " +
			"set it to the path of your dex-api.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.Listen != "" {
			c.Server.Listen = overrides.Server.Listen
		}
		if overrides.Server.MaxUploadBytes != 0 {
			c.Server.MaxUploadBytes = overrides.Server.MaxUploadBytes
		}
		if overrides.Server.ShutdownTimeout != "" {
			c.Server.ShutdownTimeout = overrides.Server.ShutdownTimeout
		}
	}

	if overrides.Tools != nil {
		if overrides.Tools.Java != "" {
			c.Tools.Java = overrides.Tools.Java
		}
		if overrides.Tools.JarDir != "" {
			c.Tools.JarDir = overrides.Tools.JarDir
		}
		if overrides.Tools.ApktoolJar != "" {
			c.Tools.ApktoolJar = overrides.Tools.ApktoolJar
		}
		if overrides.Tools.BaksmaliJar != "" {
			c.Tools.BaksmaliJar = overrides.Tools.BaksmaliJar
		}
		if overrides.Tools.SmaliJar != "" {
			c.Tools.SmaliJar = overrides.Tools.SmaliJar
		}
		if overrides.Tools.Timeout != "" {
			c.Tools.Timeout = overrides.Tools.Timeout
		}
		if overrides.Tools.JavaCheckTimeout != "" {
			c.Tools.JavaCheckTimeout = overrides.Tools.JavaCheckTimeout
		}
	}

	if overrides.Workspace != nil {
		if overrides.Workspace.Root != "" {
			c.Workspace.Root = overrides.Workspace.Root
		}
		if overrides.Workspace.CleanupGrace != "" {
			c.Workspace.CleanupGrace = overrides.Workspace.CleanupGrace
		}
		if overrides.Workspace.SweepInterval != "" {
			c.Workspace.SweepInterval = overrides.Workspace.SweepInterval
		}
		if overrides.Workspace.MaxAge != "" {
			c.Workspace.MaxAge = overrides.Workspace.MaxAge
		}
	}

	if overrides.Protection != nil {
		if overrides.Protection.ProfileDir != "" {
			c.Protection.ProfileDir = overrides.Protection.ProfileDir
		}
		if overrides.Protection.DefaultProfile != "" {
			c.Protection.DefaultProfile = overrides.Protection.DefaultProfile
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"DEXAPI_ROOT": c.Workspace.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Workspace.Root = expandVars(c.Workspace.Root, vars)
	vars["DEXAPI_ROOT"] = c.Workspace.Root // Update for dependent paths.

	c.Tools.JarDir = expandVars(c.Tools.JarDir, vars)
	c.Tools.ApktoolJar = expandVars(c.Tools.ApktoolJar, vars)
	c.Tools.BaksmaliJar = expandVars(c.Tools.BaksmaliJar, vars)
	c.Tools.SmaliJar = expandVars(c.Tools.SmaliJar, vars)
	c.Protection.ProfileDir = expandVars(c.Protection.ProfileDir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}

	if c.Tools.Java == "" {
		errs = append(errs, fmt.Errorf("tools.java is required"))
	}
	for field, value := range map[string]string{
		"tools.apktool_jar":  c.Tools.ApktoolJar,
		"tools.baksmali_jar": c.Tools.BaksmaliJar,
		"tools.smali_jar":    c.Tools.SmaliJar,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
		}
	}

	if c.Workspace.Root == "" {
		errs = append(errs, fmt.Errorf("workspace.root is required"))
	}
	if c.Protection.DefaultProfile == "" {
		errs = append(errs, fmt.Errorf("protection.default_profile is required"))
	}

	for field, value := range map[string]string{
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
		"tools.timeout":            c.Tools.Timeout,
		"tools.java_check_timeout": c.Tools.JavaCheckTimeout,
		"workspace.cleanup_grace":  c.Workspace.CleanupGrace,
		"workspace.sweep_interval": c.Workspace.SweepInterval,
		"workspace.max_age":        c.Workspace.MaxAge,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured writable directories if they
// don't exist. Read-only inputs (jar dir, profile dir) are not
// created.
func (c *Config) EnsurePaths() error {
	if c.Workspace.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Workspace.Root, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Workspace.Root, err)
	}
	return nil
}

// JavaPath returns the full path to the JVM binary. Absolute paths
// are verified directly; bare names are resolved via PATH.
func (c *Config) JavaPath() (string, error) {
	if filepath.IsAbs(c.Tools.Java) {
		if _, err := os.Stat(c.Tools.Java); err != nil {
			return "", fmt.Errorf("tools.java: %w", err)
		}
		return c.Tools.Java, nil
	}
	path, err := exec.LookPath(c.Tools.Java)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", c.Tools.Java)
	}
	return path, nil
}

// JarPath returns the full path to a tool jar. Absolute names are
// used as-is; bare names are resolved against Tools.JarDir. This
// provides hermetic jar resolution independent of the working
// directory.
func (c *Config) JarPath(name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Tools.JarDir, name)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("tool jar %s not found at %s", name, path)
	}
	return path, nil
}

// ToolTimeout returns the parsed per-invocation tool timeout.
func (c *Config) ToolTimeout() time.Duration {
	return parseDuration(c.Tools.Timeout, 5*time.Minute)
}

// JavaCheckDuration returns the parsed java -version probe timeout.
func (c *Config) JavaCheckDuration() time.Duration {
	return parseDuration(c.Tools.JavaCheckTimeout, 5*time.Second)
}

// CleanupGrace returns the parsed success-path cleanup delay.
func (c *Config) CleanupGrace() time.Duration {
	return parseDuration(c.Workspace.CleanupGrace, 30*time.Second)
}

// SweepInterval returns the parsed orphan sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Workspace.SweepInterval, 10*time.Minute)
}

// WorkspaceMaxAge returns the parsed orphan reap age.
func (c *Config) WorkspaceMaxAge() time.Duration {
	return parseDuration(c.Workspace.MaxAge, time.Hour)
}

// ShutdownTimeout returns the parsed graceful drain bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// parseDuration parses s, falling back when s is empty or invalid.
// Validate reports invalid durations; by the time accessors run the
// value is either empty or well-formed.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
