package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"quotahq/gatekeeper/pkg/quota"
)

// DefaultDebounceInterval is how long the watcher waits after the last
// file event before reloading. Editors often write a file in several
// bursts; debouncing keeps that to a single reload.
const DefaultDebounceInterval = 100 * time.Millisecond

// credentialFile is the on-disk document shape.
type credentialFile struct {
	Credentials map[string]Credential `yaml:"credentials"`
}

// FileResolver serves credentials from a YAML file and reloads the
// table when the file changes. A reload that fails to parse keeps the
// previous table, so a bad edit degrades to stale data, not an outage.
type FileResolver struct {
	path    string
	static  *StaticResolver
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	debounce time.Duration
}

// NewFileResolver loads the credential file and prepares a watcher.
// The initial load must succeed; call Watch to enable hot reload.
func NewFileResolver(path string, logger *slog.Logger) (*FileResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "credential_resolver")

	creds, err := loadCredentialFile(path)
	if err != nil {
		return nil, err
	}
	static, err := NewStaticResolver(creds)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileResolver{
		path:     path,
		static:   static,
		logger:   logger,
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		debounce: DefaultDebounceInterval,
	}, nil
}

// Resolve returns the quota for an active credential.
func (r *FileResolver) Resolve(ctx context.Context, credentialID string) (quota.QuotaConfig, error) {
	return r.static.Resolve(ctx, credentialID)
}

// Len reports the number of currently loaded credentials.
func (r *FileResolver) Len() int {
	return r.static.Len()
}

// Watch blocks processing file events until the context is cancelled
// or Stop is called. It is an error to call Watch twice.
func (r *FileResolver) Watch(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	if err := r.watcher.Add(r.path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", r.path, err)
	}

	r.logger.Info("Credential file watcher started",
		"path", r.path,
		"debounce_ms", r.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Credential file watcher stopped (context cancelled)")
			return nil

		case <-r.stopCh:
			r.logger.Info("Credential file watcher stopped")
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			r.logger.Debug("Credential file event",
				"path", event.Name,
				"op", event.Op.String(),
			)
			r.scheduleReload()

			// Some editors replace the file via rename, which drops
			// the watch. Re-add the path so the next edit is seen.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = r.watcher.Add(r.path)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.Error("Credential file watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and waits for Watch to return. Stop is a
// no-op if the watcher never ran.
func (r *FileResolver) Stop() error {
	r.mu.Lock()
	running := r.running
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if running {
		close(r.stopCh)
		<-r.doneCh
	}

	if err := r.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Reload re-reads the credential file immediately.
func (r *FileResolver) Reload() error {
	creds, err := loadCredentialFile(r.path)
	if err != nil {
		return err
	}
	if err := r.static.Replace(creds); err != nil {
		return err
	}
	r.logger.Info("Credentials reloaded",
		"path", r.path,
		"count", len(creds),
	)
	return nil
}

// scheduleReload debounces reloads so an edit burst triggers one.
func (r *FileResolver) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if err := r.Reload(); err != nil {
			r.logger.Error("Credential reload failed, keeping previous table",
				"path", r.path,
				"error", err,
			)
		}
	})
}

func loadCredentialFile(path string) (map[string]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var doc credentialFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse credential file %q: %w", path, err)
	}
	if len(doc.Credentials) == 0 {
		return nil, fmt.Errorf("credential file %q defines no credentials", path)
	}
	return doc.Credentials, nil
}
