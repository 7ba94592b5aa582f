package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Engine defaults
	DefaultEngineMaxAttempts = 16

	// Store defaults
	DefaultStoreBackend               = "memory"
	DefaultStoreMemoryCleanupInterval = 1 * time.Minute
	DefaultStoreMemoryRetention       = 24 * time.Hour
	DefaultStoreSQLitePath            = "data/counters.db"
	DefaultStoreSQLiteBusyTimeout     = 5 * time.Second
	DefaultStoreSQLiteCheckpoint      = 5 * time.Minute
	DefaultStoreSQLiteOpTimeout       = 2 * time.Second
	DefaultStoreRedisAddr             = "127.0.0.1:6379"
	DefaultStoreRedisKeyPrefix        = "gatekeeper:counter"
	DefaultStoreRedisTTL              = 24 * time.Hour

	// Ledger defaults
	DefaultLedgerEnabled            = true
	DefaultLedgerBackend            = "memory"
	DefaultLedgerMemoryMaxEntries   = 10000
	DefaultLedgerSQLitePath         = "data/usage.db"
	DefaultLedgerSQLiteMaxOpenConns = 10
	DefaultLedgerSQLiteMaxIdleConns = 5
	DefaultLedgerSQLiteWALMode      = true
	DefaultLedgerSQLiteBusyTimeout  = 5 * time.Second
	DefaultLedgerWriterBuffer       = 4096
	DefaultLedgerWriteTimeout       = 2 * time.Second
	DefaultRetentionDays            = 30
	DefaultRetentionSchedule        = "0 3 * * *"
	DefaultCounterRetention         = 24 * time.Hour

	// Credentials defaults
	DefaultCredentialsPath = "./credentials.yaml"

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"
)

// DefaultConfig returns a configuration populated entirely with defaults.
func DefaultConfig() *Config {
	// Boolean features are seeded here rather than in ApplyDefaults,
	// which cannot tell an explicit false from an unset field.
	cfg := &Config{
		Ledger: LedgerConfig{Enabled: DefaultLedgerEnabled},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in default values for any zero-valued fields.
// It only sets fields that are unset, preserving explicit values.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Engine
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = DefaultEngineMaxAttempts
	}

	// Store
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Memory.CleanupInterval == 0 {
		cfg.Store.Memory.CleanupInterval = DefaultStoreMemoryCleanupInterval
	}
	if cfg.Store.Memory.RetentionPeriod == 0 {
		cfg.Store.Memory.RetentionPeriod = DefaultStoreMemoryRetention
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultStoreSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultStoreSQLiteBusyTimeout
	}
	if cfg.Store.SQLite.CheckpointInterval == 0 {
		cfg.Store.SQLite.CheckpointInterval = DefaultStoreSQLiteCheckpoint
	}
	if cfg.Store.SQLite.OpTimeout == 0 {
		cfg.Store.SQLite.OpTimeout = DefaultStoreSQLiteOpTimeout
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = DefaultStoreRedisAddr
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultStoreRedisKeyPrefix
	}
	if cfg.Store.Redis.TTL == 0 {
		cfg.Store.Redis.TTL = DefaultStoreRedisTTL
	}

	// Ledger
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.Memory.MaxEntries == 0 {
		cfg.Ledger.Memory.MaxEntries = DefaultLedgerMemoryMaxEntries
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.SQLite.MaxOpenConns == 0 {
		cfg.Ledger.SQLite.MaxOpenConns = DefaultLedgerSQLiteMaxOpenConns
	}
	if cfg.Ledger.SQLite.MaxIdleConns == 0 {
		cfg.Ledger.SQLite.MaxIdleConns = DefaultLedgerSQLiteMaxIdleConns
	}
	if !cfg.Ledger.SQLite.WALMode {
		cfg.Ledger.SQLite.WALMode = DefaultLedgerSQLiteWALMode
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = DefaultLedgerSQLiteBusyTimeout
	}
	if cfg.Ledger.Writer.Buffer == 0 {
		cfg.Ledger.Writer.Buffer = DefaultLedgerWriterBuffer
	}
	if cfg.Ledger.Writer.WriteTimeout == 0 {
		cfg.Ledger.Writer.WriteTimeout = DefaultLedgerWriteTimeout
	}
	if cfg.Ledger.Retention.Days == 0 {
		cfg.Ledger.Retention.Days = DefaultRetentionDays
	}
	if cfg.Ledger.Retention.Schedule == "" {
		cfg.Ledger.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Ledger.Retention.CounterRetention == 0 {
		cfg.Ledger.Retention.CounterRetention = DefaultCounterRetention
	}

	// Credentials
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = DefaultCredentialsPath
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
}
