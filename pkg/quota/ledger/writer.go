package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WriterConfig contains configuration for the async ledger writer.
type WriterConfig struct {
	// Buffer is the size of the append channel.
	// Default: 4096
	Buffer int

	// WriteTimeout is how long Append blocks when the buffer is full
	// before giving up on the entry.
	// Default: 2 seconds
	WriteTimeout time.Duration
}

// DefaultWriterConfig returns the default writer configuration.
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Buffer:       4096,
		WriteTimeout: 2 * time.Second,
	}
}

// Writer appends entries to a Storage from a single background worker, so
// the admission path never waits on ledger I/O. One worker keeps arrival
// order; Close drains everything still queued. Under sustained overload
// Append blocks up to WriteTimeout and then reports the drop rather than
// losing it silently.
type Writer struct {
	storage   Storage
	config    *WriterConfig
	ch        chan *Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewWriter creates a writer and starts its worker.
func NewWriter(storage Storage, config *WriterConfig) *Writer {
	if config == nil {
		config = DefaultWriterConfig()
	}
	if config.Buffer <= 0 {
		config.Buffer = 4096
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Second
	}

	w := &Writer{
		storage: storage,
		config:  config,
		ch:      make(chan *Entry, config.Buffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "ledger.writer"),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

// Append queues one entry for writing. The fast path is a non-blocking
// send; when the buffer is full it waits up to WriteTimeout.
func (w *Writer) Append(ctx context.Context, entry *Entry) error {
	select {
	case w.ch <- entry:
		return nil
	default:
	}

	timer := time.NewTimer(w.config.WriteTimeout)
	defer timer.Stop()

	select {
	case w.ch <- entry:
		return nil
	case <-ctx.Done():
		return NewLedgerError("writer", "append", ctx.Err())
	case <-timer.C:
		w.logger.Error("ledger buffer full, dropping entry",
			"credential_id", entry.CredentialID,
			"endpoint", entry.Endpoint,
			"buffer", w.config.Buffer,
		)
		return NewLedgerError("writer", "append", context.DeadlineExceeded)
	case <-w.done:
		return NewLedgerError("writer", "append", context.Canceled)
	}
}

// Close stops the writer after draining queued entries. Safe to call
// more than once.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
	return nil
}

// worker drains the channel until shutdown.
func (w *Writer) worker() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.ch:
			w.write(entry)
		case <-w.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case entry := <-w.ch:
					w.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write performs one storage append with a bounded context.
func (w *Writer) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	if err := w.storage.Append(ctx, entry); err != nil {
		w.logger.Error("failed to append ledger entry",
			"error", err,
			"credential_id", entry.CredentialID,
			"endpoint", entry.Endpoint,
		)
	}
}
