package config

import "time"

// Config is the root configuration for the Gatekeeper service.
type Config struct {
	// Server configures the HTTP admission API.
	Server ServerConfig `yaml:"server"`

	// Engine configures the admission engine itself.
	Engine EngineConfig `yaml:"engine"`

	// Store configures the counter store backend.
	Store StoreConfig `yaml:"store"`

	// Ledger configures the usage ledger.
	Ledger LedgerConfig `yaml:"ledger"`

	// Credentials configures the credential registry.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Telemetry configures logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is the address the server binds to (host:port).
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request
	// on a kept-alive connection.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is how long graceful shutdown waits for
	// in-flight requests before forcing the listener closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig contains admission engine settings.
type EngineConfig struct {
	// MaxAttempts bounds compare-and-swap retries per check.
	MaxAttempts int `yaml:"max_attempts"`
}

// StoreConfig selects and configures the counter store backend.
type StoreConfig struct {
	// Backend selects the storage backend: "memory", "sqlite", or "redis".
	Backend string `yaml:"backend"`

	// Memory configures the in-memory backend.
	Memory MemoryStoreConfig `yaml:"memory"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteStoreConfig `yaml:"sqlite"`

	// Redis configures the Redis backend.
	Redis RedisStoreConfig `yaml:"redis"`
}

// MemoryStoreConfig contains in-memory counter store settings.
type MemoryStoreConfig struct {
	// CleanupInterval is how often the janitor sweeps stale counters.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// RetentionPeriod is how long an untouched counter survives.
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// SQLiteStoreConfig contains SQLite counter store settings.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// OpTimeout bounds individual database operations.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// RedisStoreConfig contains Redis counter store settings.
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`

	// Password is the Redis password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix namespaces all counter keys.
	KeyPrefix string `yaml:"key_prefix"`

	// TTL is the expiry applied to counter keys.
	TTL time.Duration `yaml:"ttl"`
}

// LedgerConfig selects and configures the usage ledger.
type LedgerConfig struct {
	// Enabled turns the ledger on or off. Admission checks still work
	// with the ledger disabled; usage statistics become unavailable.
	Enabled bool `yaml:"enabled"`

	// Backend selects the ledger backend: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Memory configures the in-memory ledger.
	Memory MemoryLedgerConfig `yaml:"memory"`

	// SQLite configures the SQLite ledger.
	SQLite SQLiteLedgerConfig `yaml:"sqlite"`

	// Writer configures the asynchronous write path.
	Writer WriterConfig `yaml:"writer"`

	// Retention configures pruning of old entries.
	Retention RetentionConfig `yaml:"retention"`
}

// MemoryLedgerConfig contains in-memory ledger settings.
type MemoryLedgerConfig struct {
	// MaxEntries bounds the ring buffer. Oldest entries are evicted.
	MaxEntries int `yaml:"max_entries"`
}

// SQLiteLedgerConfig contains SQLite ledger settings.
type SQLiteLedgerConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// MaxOpenConns limits the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns limits idle pooled connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the SQLite busy timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// WriterConfig contains asynchronous ledger writer settings.
type WriterConfig struct {
	// Buffer is the channel capacity between checks and the writer.
	Buffer int `yaml:"buffer"`

	// WriteTimeout bounds a single ledger write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig contains ledger retention settings.
type RetentionConfig struct {
	// Days is how many days of usage entries to keep. Zero disables
	// age-based pruning.
	Days int `yaml:"days"`

	// MaxEntries caps total entries regardless of age. Zero disables
	// count-based pruning.
	MaxEntries int `yaml:"max_entries"`

	// Schedule is the cron expression for the prune job.
	Schedule string `yaml:"schedule"`

	// CounterRetention is how long stale counter rows survive before
	// the prune job sweeps them.
	CounterRetention time.Duration `yaml:"counter_retention"`
}

// CredentialsConfig contains credential registry settings.
type CredentialsConfig struct {
	// Path is the credential YAML file.
	Path string `yaml:"path"`

	// Watch enables hot reload of the credential file.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics exposure.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on or off.
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	Path string `yaml:"path"`
}
