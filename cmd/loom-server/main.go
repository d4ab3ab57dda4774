// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// loom-server is the homeserver daemon: one process serving the client
// and federation HTTP surfaces over a durable event store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/loom/lib/clock"
	"github.com/bureau-foundation/loom/lib/config"
	"github.com/bureau-foundation/loom/lib/credential"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/federation"
	"github.com/bureau-foundation/loom/lib/graph"
	"github.com/bureau-foundation/loom/lib/httpapi"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/service"
	"github.com/bureau-foundation/loom/lib/version"
)

// signingKeyVersion names the key generated on first start. Rotation
// means generating a file with a new version and swapping the path.
const signingKeyVersion = "0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to loom.yaml (defaults to $LOOM_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("loom-server %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return fmt.Errorf("server_name: %w", err)
	}

	key, generated, err := credential.LoadOrGenerate(cfg.SigningKeyPath, signingKeyVersion)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	logger.Info("signing key ready",
		"path", cfg.SigningKeyPath,
		"key_id", key.ID(),
		"generated", generated,
	)

	compression, err := eventstore.ParseCompressionTag(cfg.Database.Compression)
	if err != nil {
		return err
	}
	store, err := eventstore.OpenBadger(eventstore.BadgerOptions{
		Path:        cfg.Database.Path,
		Compression: compression,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing event store", "error", err)
		}
	}()
	logger.Info("event store open",
		"path", cfg.Database.Path,
		"compression", cfg.Database.Compression,
	)

	eventGraph := graph.New(store, logger)

	timeout, err := time.ParseDuration(cfg.Federation.Timeout)
	if err != nil {
		return fmt.Errorf("federation.timeout: %w", err)
	}
	retryDelay, err := time.ParseDuration(cfg.Federation.RetryDelay)
	if err != nil {
		return fmt.Errorf("federation.retry_delay: %w", err)
	}
	gcInterval, err := time.ParseDuration(cfg.Database.GCInterval)
	if err != nil {
		return fmt.Errorf("database.gc_interval: %w", err)
	}

	gateway, err := federation.NewClient(federation.ClientOptions{
		Origin:      serverName,
		Key:         key,
		Scheme:      cfg.Federation.Scheme,
		DefaultPort: cfg.Federation.Port,
		HTTPClient:  &http.Client{Timeout: timeout},
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("federation client: %w", err)
	}

	clk := clock.Real()
	backfiller := federation.NewBackfiller(federation.BackfillerOptions{
		Graph:       eventGraph,
		Gateway:     gateway,
		MaxAttempts: cfg.Federation.MaxAttempts,
		RetryDelay:  retryDelay,
		FetchBudget: cfg.Federation.FetchBudget,
		Clock:       clk,
		Logger:      logger,
	})

	api := httpapi.New(httpapi.Options{
		Graph:      eventGraph,
		Backfiller: backfiller,
		ServerName: serverName,
		Clock:      clk,
		Logger:     logger,
	})

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: api.Router(),
		Logger:  logger,
	})

	go runStoreGC(ctx, store, clk, gcInterval, logger)

	logger.Info("loom server running",
		"server_name", serverName,
		"listen", cfg.ListenAddress,
		"federation_scheme", cfg.Federation.Scheme,
		"version", version.Short(),
	)

	return httpServer.Serve(ctx)
}

// runStoreGC runs Badger value-log garbage collection on a fixed
// interval until the context is cancelled.
func runStoreGC(ctx context.Context, store *eventstore.Badger, clk clock.Clock, interval time.Duration, logger *slog.Logger) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := store.RunGC()
			if err != nil {
				logger.Error("value-log GC failed", "error", err)
				continue
			}
			if reclaimed {
				logger.Debug("value-log GC reclaimed space")
			}
		}
	}
}
