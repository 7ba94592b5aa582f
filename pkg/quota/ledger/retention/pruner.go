package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quotahq/gatekeeper/pkg/quota"
	"quotahq/gatekeeper/pkg/quota/ledger"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is how many days of ledger entries to keep.
	// 0 means keep entries forever.
	RetentionDays int

	// MaxEntries caps the total ledger size. 0 means unlimited.
	MaxEntries int64

	// PruneSchedule is a cron expression for scheduled pruning.
	// Example: "0 3 * * *" (daily at 3 AM). Empty disables the scheduler.
	PruneSchedule string

	// CounterRetention is how long an idle counter survives before the
	// same pass sweeps it from the counter store. 0 disables the sweep.
	CounterRetention time.Duration
}

// DefaultConfig returns the default retention configuration. The 30-day
// ledger horizon matches the durable log's documented stats accuracy
// bound.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays:    30,
		MaxEntries:       0,
		PruneSchedule:    "0 3 * * *",
		CounterRetention: 24 * time.Hour,
	}
}

// Pruner enforces retention on the ledger and counter store.
type Pruner struct {
	storage   ledger.Storage
	counters  quota.Store
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a retention pruner. The counter store may be nil when
// only the ledger needs pruning.
func NewPruner(storage ledger.Storage, counters quota.Store, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Pruner{
		storage:  storage,
		counters: counters,
		config:   config,
		logger:   slog.Default().With("component", "ledger.retention"),
	}
	p.scheduler = NewScheduler(p)

	return p
}

// Scheduler returns the cron scheduler driving this pruner.
func (p *Pruner) Scheduler() *Scheduler {
	return p.scheduler
}

// Prune runs one retention pass: age-based ledger pruning, count-based
// ledger trimming, then the idle-counter sweep. Returns the number of
// ledger entries deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		total += deleted
	}

	if p.config.MaxEntries > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if p.counters != nil && p.config.CounterRetention > 0 {
		cutoff := time.Now().Add(-p.config.CounterRetention)
		swept, err := p.counters.Cleanup(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("counter sweep failed: %w", err)
		}
		if swept > 0 {
			p.logger.Info("swept idle counters",
				"swept", swept,
				"idle_for", p.config.CounterRetention,
			)
		}
	}

	if total > 0 {
		p.logger.Info("ledger pruning completed",
			"deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_entries", p.config.MaxEntries,
		)
	}

	return total, nil
}

// pruneByAge deletes entries older than the retention period.
func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)
	return p.storage.Delete(ctx, &ledger.Query{Until: cutoff})
}

// pruneByCount trims the ledger down to MaxEntries by deleting the oldest
// overflow. The cutoff is the timestamp of the newest entry in the
// overflow, found with one indexed lookup.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	total, err := p.storage.Count(ctx, nil)
	if err != nil {
		return 0, err
	}

	excess := total - p.config.MaxEntries
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := p.storage.Query(ctx, &ledger.Query{
		Ascending: true,
		Limit:     1,
		Offset:    int(excess - 1),
	})
	if err != nil {
		return 0, err
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	return p.storage.Delete(ctx, &ledger.Query{Until: oldest[0].Timestamp})
}
