package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quotahq/gatekeeper/pkg/config"
	"quotahq/gatekeeper/pkg/quota"
	"quotahq/gatekeeper/pkg/quota/ledger"
	"quotahq/gatekeeper/pkg/quota/ledger/retention"
	"quotahq/gatekeeper/pkg/quota/resolver"
	"quotahq/gatekeeper/pkg/quota/stats"
	"quotahq/gatekeeper/pkg/quota/store"
	"quotahq/gatekeeper/pkg/server"
	"quotahq/gatekeeper/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Gatekeeper admission server",
	Long: `Start the Gatekeeper admission server with the specified configuration.

The server listens on the configured address and answers admission checks
against fixed-window quotas, recording every decision in the usage ledger.

Examples:
  # Start with default config
  gatekeeper run

  # Start with custom config
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:8080

  # Validate config without starting server
  gatekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Gatekeeper v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Metrics registry
	var registry *prometheus.Registry
	var metrics *quota.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = quota.NewMetrics(registry)
	}

	// Counter store
	counterStore, err := buildCounterStore(cfg, logger)
	if err != nil {
		return err
	}
	defer counterStore.Close()
	fmt.Printf("✓ Counter store initialized (%s)\n", cfg.Store.Backend)

	// Usage ledger
	var ledgerStorage ledger.Storage
	var appender ledger.Appender
	var writer *ledger.Writer
	if cfg.Ledger.Enabled {
		ledgerStorage, err = buildLedgerStorage(cfg)
		if err != nil {
			return err
		}
		defer ledgerStorage.Close()

		writer = ledger.NewWriter(ledgerStorage, &ledger.WriterConfig{
			Buffer:       cfg.Ledger.Writer.Buffer,
			WriteTimeout: cfg.Ledger.Writer.WriteTimeout,
		})
		defer writer.Close()
		appender = writer

		fmt.Printf("✓ Usage ledger initialized (%s)\n", cfg.Ledger.Backend)
	} else {
		// Stats queries still need a storage to read from; an empty
		// in-memory ledger answers them with zeros.
		ledgerStorage = ledger.NewMemoryLedger(1)
		logger.Warn("usage ledger disabled, statistics will be empty")
	}

	// Retention
	if cfg.Ledger.Enabled && cfg.Ledger.Retention.Schedule != "" {
		pruner := retention.NewPruner(ledgerStorage, counterStore, &retention.Config{
			RetentionDays:    cfg.Ledger.Retention.Days,
			MaxEntries:       int64(cfg.Ledger.Retention.MaxEntries),
			PruneSchedule:    cfg.Ledger.Retention.Schedule,
			CounterRetention: cfg.Ledger.Retention.CounterRetention,
		})
		if err := pruner.Scheduler().Start(ctx); err != nil {
			logger.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer pruner.Scheduler().Stop()
			if next := pruner.Scheduler().NextRun(); next != nil {
				logger.Debug("retention scheduler started", "next_run", next)
			}
		}
	}

	// Credential registry
	fileResolver, err := resolver.NewFileResolver(cfg.Credentials.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	defer fileResolver.Stop()
	if cfg.Credentials.Watch {
		go func() {
			if err := fileResolver.Watch(ctx); err != nil {
				logger.Error("credential watcher failed", "error", err)
			}
		}()
	}
	fmt.Printf("✓ Credentials loaded (%d credentials)\n", fileResolver.Len())

	// Admission engine and statistics
	engine := quota.NewEngine(counterStore, appender, quota.EngineConfig{
		MaxAttempts: cfg.Engine.MaxAttempts,
		Metrics:     metrics,
	})
	aggregator := stats.NewAggregator(counterStore, ledgerStorage)

	// HTTP server
	srv := server.NewServer(server.Options{
		Config:     &cfg.Server,
		Metrics:    &cfg.Telemetry.Metrics,
		Engine:     engine,
		Resolver:   fileResolver,
		Aggregator: aggregator,
		Registry:   registry,
		Logger:     logger,
	})

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/healthz\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Start blocks until a shutdown signal or a server error.
	return srv.Start(ctx)
}

// buildCounterStore constructs the configured counter store backend.
func buildCounterStore(cfg *config.Config, logger *slog.Logger) (quota.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStoreWithConfig(store.MemoryStoreConfig{
			CleanupInterval: cfg.Store.Memory.CleanupInterval,
			RetentionPeriod: cfg.Store.Memory.RetentionPeriod,
		}), nil

	case "sqlite":
		s, err := store.NewSQLiteStoreWithConfig(store.SQLiteStoreConfig{
			DBPath:           cfg.Store.SQLite.Path,
			OpTimeout:        cfg.Store.SQLite.OpTimeout,
			SnapshotInterval: cfg.Store.SQLite.CheckpointInterval,
			BusyTimeout:      cfg.Store.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite counter store: %w", err)
		}
		return s, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		return store.NewRedisStore(rdb,
			store.WithPrefix(cfg.Store.Redis.KeyPrefix),
			store.WithTTL(cfg.Store.Redis.TTL),
		), nil

	default:
		return nil, fmt.Errorf("unsupported counter store backend: %s", cfg.Store.Backend)
	}
}

// buildLedgerStorage constructs the configured ledger backend.
func buildLedgerStorage(cfg *config.Config) (ledger.Storage, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryLedger(cfg.Ledger.Memory.MaxEntries), nil

	case "sqlite":
		s, err := ledger.NewSQLiteLedger(&ledger.SQLiteConfig{
			Path:         cfg.Ledger.SQLite.Path,
			MaxOpenConns: cfg.Ledger.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.Ledger.SQLite.MaxIdleConns,
			WALMode:      cfg.Ledger.SQLite.WALMode,
			BusyTimeout:  cfg.Ledger.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite ledger: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger.Backend)
	}
}
