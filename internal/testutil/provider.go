package testutil

import (
	"context"
	"testing"

	"gamevault/internal/encryption"
	"gamevault/internal/provider"
)

// ProviderDeps returns provider dependencies wired to a TestSealer and a
// FixedClock. The returned clock can be advanced to expire TTL entries.
func ProviderDeps() (provider.Deps, *StubClock) {
	clock := FixedClock()
	return provider.Deps{
		Sealer: encryption.NewTestSealer(),
		Clock:  clock,
	}, clock
}

// NewMemoryProvider creates an initialized in-memory provider for testing.
func NewMemoryProvider(t *testing.T) (*provider.MemoryProvider, *StubClock) {
	t.Helper()
	deps, clock := ProviderDeps()
	p := provider.NewMemoryProvider("test", "test:", 0, deps)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing memory provider: %v", err)
	}
	return p, clock
}

// NewFileProvider creates an initialized file provider rooted in a temp dir.
func NewFileProvider(t *testing.T) (*provider.FileProvider, *StubClock) {
	t.Helper()
	return NewFileProviderAt(t, t.TempDir())
}

// NewFileProviderAt creates an initialized file provider rooted at root.
func NewFileProviderAt(t *testing.T, root string) (*provider.FileProvider, *StubClock) {
	t.Helper()
	deps, clock := ProviderDeps()
	p := provider.NewFileProvider("test", "test:", root, 0, deps)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing file provider: %v", err)
	}
	return p, clock
}
