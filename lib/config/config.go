// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
)

// Config is the master configuration for the loom server.
type Config struct {
	// ServerName is this homeserver's name: the authority part of
	// every identifier it mints and the origin on outbound federation
	// requests. Required; there is no sensible default.
	ServerName string `yaml:"server_name"`

	// ListenAddress is the host:port the HTTP API binds.
	ListenAddress string `yaml:"listen_address"`

	// DataDir is the base directory for server state. Other path
	// fields may reference it as ${LOOM_DATA}.
	DataDir string `yaml:"data_dir"`

	// SigningKeyPath locates the server's ed25519 signing key file.
	// The daemon generates the key on first start if the file is
	// absent.
	SigningKeyPath string `yaml:"signing_key_path"`

	// LogLevel sets the slog level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`

	// Database configures the event store.
	Database DatabaseConfig `yaml:"database"`

	// Federation configures the outbound federation client and the
	// dependency backfiller.
	Federation FederationConfig `yaml:"federation"`
}

// DatabaseConfig configures the event store.
type DatabaseConfig struct {
	// Path is the Badger database directory, created if absent.
	Path string `yaml:"path"`

	// Compression selects the stored-record compression algorithm:
	// none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// GCInterval is how often the daemon runs value-log garbage
	// collection. A duration string ("5m", "1h").
	GCInterval string `yaml:"gc_interval"`
}

// FederationConfig configures outbound federation.
type FederationConfig struct {
	// Scheme is the URL scheme for outbound requests: https, or http
	// for test deployments.
	Scheme string `yaml:"scheme"`

	// Port is appended to destination server names that do not carry
	// an explicit port.
	Port int `yaml:"port"`

	// Timeout bounds each outbound HTTP request. A duration string.
	Timeout string `yaml:"timeout"`

	// MaxAttempts bounds admit/fetch rounds per incoming event before
	// its dependency gap is declared unresolvable.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay paces dependency-fetch rounds. A duration string.
	RetryDelay string `yaml:"retry_delay"`

	// FetchBudget bounds remote event fetches within a single round.
	FetchBudget int `yaml:"fetch_budget"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; ServerName has no default
// and must come from the file.
func Default() *Config {
	return &Config{
		ListenAddress:  ":8008",
		DataDir:        "/var/lib/loom",
		SigningKeyPath: "${LOOM_DATA}/signing.key",
		LogLevel:       "info",
		Database: DatabaseConfig{
			Path:        "${LOOM_DATA}/db",
			Compression: "zstd",
			GCInterval:  "5m",
		},
		Federation: FederationConfig{
			Scheme:      "https",
			Port:        8448,
			Timeout:     "30s",
			MaxAttempts: 5,
			RetryDelay:  "250ms",
			FetchBudget: 100,
		},
	}
}

// Load loads configuration from the path in the LOOM_CONFIG
// environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if LOOM_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LOOM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LOOM_CONFIG environment variable not set; " +
			"set it to the path of your loom.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME}, ${LOOM_DATA}, and ${VAR:-default} patterns in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. DataDir is expanded first so dependent paths can reference
// it as ${LOOM_DATA}.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LOOM_DATA": c.DataDir,
		"HOME":      os.Getenv("HOME"),
	}

	c.DataDir = expandVars(c.DataDir, vars)
	vars["LOOM_DATA"] = c.DataDir

	c.SigningKeyPath = expandVars(c.SigningKeyPath, vars)
	c.Database.Path = expandVars(c.Database.Path, vars)
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

	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	} else if _, err := ref.ParseServerName(c.ServerName); err != nil {
		errs = append(errs, fmt.Errorf("server_name: %w", err))
	}

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	if c.SigningKeyPath == "" {
		errs = append(errs, fmt.Errorf("signing_key_path is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if _, err := eventstore.ParseCompressionTag(c.Database.Compression); err != nil {
		errs = append(errs, fmt.Errorf("database.compression: %w", err))
	}
	if interval, err := time.ParseDuration(c.Database.GCInterval); err != nil {
		errs = append(errs, fmt.Errorf("database.gc_interval: %w", err))
	} else if interval <= 0 {
		errs = append(errs, fmt.Errorf("database.gc_interval must be positive, got %s", interval))
	}

	if c.Federation.Scheme != "https" && c.Federation.Scheme != "http" {
		errs = append(errs, fmt.Errorf("federation.scheme must be https or http, got %q", c.Federation.Scheme))
	}
	if c.Federation.Port < 1 || c.Federation.Port > 65535 {
		errs = append(errs, fmt.Errorf("federation.port must be in 1..65535, got %d", c.Federation.Port))
	}
	if _, err := time.ParseDuration(c.Federation.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("federation.timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Federation.RetryDelay); err != nil {
		errs = append(errs, fmt.Errorf("federation.retry_delay: %w", err))
	}
	if c.Federation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("federation.max_attempts must be at least 1, got %d", c.Federation.MaxAttempts))
	}
	if c.Federation.FetchBudget < 1 {
		errs = append(errs, fmt.Errorf("federation.fetch_budget must be at least 1, got %d", c.Federation.FetchBudget))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses LogLevel into a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
}

// EnsurePaths creates the configured directories if they don't exist:
// the data directory, the database directory, and the signing key's
// parent directory.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.DataDir,
		c.Database.Path,
		filepath.Dir(c.SigningKeyPath),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
