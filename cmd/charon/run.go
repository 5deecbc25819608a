package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/charon/pkg/config"
	"mercator-hq/charon/pkg/gateway"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/pipeline"
	"mercator-hq/charon/pkg/queue"
	"mercator-hq/charon/pkg/telemetry/metrics"
	"mercator-hq/charon/pkg/userstore"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Charon gateway",
	Long: `Start the Charon gateway with the specified configuration.

Credentials are read from <SERVICE>_KEY environment variables (comma
separated) and, when configured, from a hot-reloaded key file.

Examples:
  # Start with defaults
  charon run

  # Start with custom config
  charon run --config /etc/charon/config.yaml

  # Validate config without starting
  charon run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	setupLogging(cfg)

	if runFlags.dryRun {
		fmt.Println("configuration OK")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Key pool and credential sources.
	pool := keypool.New(keypool.Config{
		ReuseDelay:       cfg.Keys.ReuseDelay,
		RateLimitLockout: cfg.Keys.RateLimitLockout,
		AllowAWSLogging:  cfg.Keys.AllowAWSLogging,
	})
	loaded := pool.LoadFromEnv()
	if cfg.Keys.File != "" {
		n, err := pool.LoadFromFile(cfg.Keys.File)
		if err != nil {
			slog.Warn("key file load failed", "path", cfg.Keys.File, "error", err)
		}
		loaded += n
		watcher := keypool.NewFileWatcher(pool, cfg.Keys.File)
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("key file watcher stopped", "error", err)
			}
		}()
	}
	slog.Info("credential pool loaded", "keys", loaded)

	if cfg.Keys.CheckKeys {
		rechecker := keypool.NewRechecker(pool)
		if err := rechecker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start key rechecker: %w", err)
		}
	}

	// Admission queue and dispatcher.
	q := queue.New(pool, queue.Config{UpstreamRPS: cfg.Limits.UpstreamRPS})
	go q.Start(ctx)

	// User accounting.
	var users userstore.Store
	if cfg.Usage.SQLitePath != "" {
		users, err = userstore.NewSQLiteStore(cfg.Usage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open usage store: %w", err)
		}
	} else {
		users = userstore.NewMemoryStore()
	}
	defer users.Close()

	// Telemetry.
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	pipe := pipeline.New(pool, q, users, collector, pipeline.Config{
		MaxRetries:        cfg.Limits.MaxRetries,
		MaxContextTokens:  cfg.Limits.MaxContextTokens,
		AllowedFamilies:   cfg.Limits.AllowedModelFamilies,
		StreamIdleTimeout: cfg.Limits.StreamIdleTimeout,
		BaseURLs:          cfg.Upstreams.BaseURLs,
		Upstream:          pipeline.UpstreamConfig{Timeout: cfg.Limits.RequestTimeout},
	})

	server := gateway.New(cfg, pool, q, pipe, registry, Version)
	return server.Start(ctx)
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
