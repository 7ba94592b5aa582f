package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quotahq/gatekeeper/pkg/quota"
)

var (
	// ErrInvalidCredential indicates the credential is not registered.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInactiveCredential indicates the credential exists but is disabled.
	ErrInactiveCredential = errors.New("credential is inactive")
)

// Credential is one registry entry.
type Credential struct {
	MaxRequests int64         `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"-" json:"window"`

	// WindowRaw carries the YAML form of the window ("60s", "1h").
	WindowRaw string `yaml:"window" json:"-"`

	// Active gates admission. Inactive credentials resolve to
	// ErrInactiveCredential rather than being dropped, so callers can
	// distinguish a revoked key from an unknown one.
	Active bool `yaml:"active" json:"active"`
}

// Quota converts the entry to an engine quota.
func (c Credential) Quota() quota.QuotaConfig {
	return quota.QuotaConfig{MaxRequests: c.MaxRequests, Window: c.Window}
}

// Resolver looks up the quota configuration for a credential.
type Resolver interface {
	Resolve(ctx context.Context, credentialID string) (quota.QuotaConfig, error)
}

// StaticResolver serves a fixed credential table.
type StaticResolver struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewStaticResolver builds a resolver over the given table. Window
// strings are parsed eagerly so a malformed table fails at startup.
func NewStaticResolver(creds map[string]Credential) (*StaticResolver, error) {
	normalized, err := normalize(creds)
	if err != nil {
		return nil, err
	}
	return &StaticResolver{creds: normalized}, nil
}

// Resolve returns the quota for an active credential.
func (r *StaticResolver) Resolve(ctx context.Context, credentialID string) (quota.QuotaConfig, error) {
	r.mu.RLock()
	cred, ok := r.creds[credentialID]
	r.mu.RUnlock()

	if !ok {
		return quota.QuotaConfig{}, fmt.Errorf("%w: %q", ErrInvalidCredential, credentialID)
	}
	if !cred.Active {
		return quota.QuotaConfig{}, fmt.Errorf("%w: %q", ErrInactiveCredential, credentialID)
	}
	return cred.Quota(), nil
}

// Replace swaps the whole table atomically.
func (r *StaticResolver) Replace(creds map[string]Credential) error {
	normalized, err := normalize(creds)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.creds = normalized
	r.mu.Unlock()
	return nil
}

// Len reports the number of registered credentials.
func (r *StaticResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.creds)
}

// normalize parses window strings and validates every entry. The input
// map is not mutated.
func normalize(creds map[string]Credential) (map[string]Credential, error) {
	out := make(map[string]Credential, len(creds))
	for id, cred := range creds {
		if cred.Window == 0 && cred.WindowRaw != "" {
			d, err := time.ParseDuration(cred.WindowRaw)
			if err != nil {
				return nil, fmt.Errorf("credential %q: invalid window %q: %w", id, cred.WindowRaw, err)
			}
			cred.Window = d
		}
		if err := cred.Quota().Validate(); err != nil {
			return nil, fmt.Errorf("credential %q: %w", id, err)
		}
		out[id] = cred
	}
	return out, nil
}
