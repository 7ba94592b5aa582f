package resolver

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestStaticResolver_Resolve tests the happy path against an active
// credential.
func TestStaticResolver_Resolve(t *testing.T) {
	r, err := NewStaticResolver(map[string]Credential{
		"cred-1": {MaxRequests: 100, Window: time.Minute, Active: true},
	})
	if err != nil {
		t.Fatalf("NewStaticResolver() failed: %v", err)
	}

	q, err := r.Resolve(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if q.MaxRequests != 100 || q.Window != time.Minute {
		t.Errorf("Expected 100 per 1m, got %d per %v", q.MaxRequests, q.Window)
	}
}

// TestStaticResolver_UnknownCredential tests the ErrInvalidCredential
// sentinel.
func TestStaticResolver_UnknownCredential(t *testing.T) {
	r, err := NewStaticResolver(map[string]Credential{
		"cred-1": {MaxRequests: 100, Window: time.Minute, Active: true},
	})
	if err != nil {
		t.Fatalf("NewStaticResolver() failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), "cred-missing")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Expected ErrInvalidCredential, got %v", err)
	}
}

// TestStaticResolver_InactiveCredential tests that revoked keys are
// distinguishable from unknown ones.
func TestStaticResolver_InactiveCredential(t *testing.T) {
	r, err := NewStaticResolver(map[string]Credential{
		"cred-1": {MaxRequests: 100, Window: time.Minute, Active: false},
	})
	if err != nil {
		t.Fatalf("NewStaticResolver() failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), "cred-1")
	if !errors.Is(err, ErrInactiveCredential) {
		t.Errorf("Expected ErrInactiveCredential, got %v", err)
	}
}

// TestStaticResolver_WindowRawParsing tests that YAML window strings are
// parsed eagerly.
func TestStaticResolver_WindowRawParsing(t *testing.T) {
	r, err := NewStaticResolver(map[string]Credential{
		"cred-1": {MaxRequests: 10, WindowRaw: "90s", Active: true},
	})
	if err != nil {
		t.Fatalf("NewStaticResolver() failed: %v", err)
	}

	q, err := r.Resolve(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if q.Window != 90*time.Second {
		t.Errorf("Expected window 90s, got %v", q.Window)
	}
}

// TestStaticResolver_InvalidTable tests that malformed entries fail at
// construction.
func TestStaticResolver_InvalidTable(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
	}{
		{"bad window string", Credential{MaxRequests: 10, WindowRaw: "lots", Active: true}},
		{"zero max requests", Credential{MaxRequests: 0, Window: time.Minute, Active: true}},
		{"zero window", Credential{MaxRequests: 10, Active: true}},
		{"negative max requests", Credential{MaxRequests: -1, Window: time.Minute, Active: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStaticResolver(map[string]Credential{"cred-1": tt.cred}); err == nil {
				t.Error("NewStaticResolver() should have failed")
			}
		})
	}
}

// TestStaticResolver_Replace tests atomic table swap and rejection of a
// bad replacement.
func TestStaticResolver_Replace(t *testing.T) {
	r, err := NewStaticResolver(map[string]Credential{
		"cred-1": {MaxRequests: 100, Window: time.Minute, Active: true},
	})
	if err != nil {
		t.Fatalf("NewStaticResolver() failed: %v", err)
	}

	err = r.Replace(map[string]Credential{
		"cred-2": {MaxRequests: 5, Window: time.Hour, Active: true},
	})
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Resolve(ctx, "cred-1"); !errors.Is(err, ErrInvalidCredential) {
		t.Error("old table should be gone after Replace")
	}
	if _, err := r.Resolve(ctx, "cred-2"); err != nil {
		t.Errorf("new table should resolve, got %v", err)
	}

	// A malformed replacement is rejected and leaves the table intact.
	err = r.Replace(map[string]Credential{
		"cred-3": {MaxRequests: 0, Window: time.Minute, Active: true},
	})
	if err == nil {
		t.Fatal("Replace() should reject an invalid table")
	}
	if _, err := r.Resolve(ctx, "cred-2"); err != nil {
		t.Errorf("table should survive a failed Replace, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 credential, got %d", r.Len())
	}
}
