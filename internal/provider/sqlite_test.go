package provider_test

import (
	"context"
	"testing"
	"time"

	"gamevault/internal/provider"
	"gamevault/internal/storage"
	"gamevault/internal/testutil"
)

// newSQLiteProvider creates an initialized in-memory SQLite provider.
func newSQLiteProvider(t *testing.T) (*provider.SQLiteProvider, *testutil.StubClock) {
	t.Helper()
	deps, clock := testutil.ProviderDeps()
	p := provider.NewSQLiteProvider("test", "test:", "", 0, deps)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing sqlite provider: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, clock
}

func TestSQLiteProvider_SetGet(t *testing.T) {
	ctx := context.Background()
	p, _ := newSQLiteProvider(t)

	want := score{Game: "tetris", Points: 300}
	if err := p.SetItem(ctx, "progress:tetris", want, storage.Options{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got score
	found, err := p.GetItem(ctx, "progress:tetris", &got)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if err := p.RemoveItem(ctx, "progress:tetris"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if found, _ := p.GetItem(ctx, "progress:tetris", &got); found {
		t.Error("entry survived remove")
	}
}

func TestSQLiteProvider_TTL(t *testing.T) {
	ctx := context.Background()
	p, clock := newSQLiteProvider(t)

	p.SetItem(ctx, "session", "tok", storage.Options{TTL: time.Minute})
	p.SetItem(ctx, "stays", 1, storage.Options{})

	var tok string
	if found, _ := p.GetItem(ctx, "session", &tok); !found {
		t.Fatal("entry absent before expiry")
	}

	clock.Advance(time.Hour)
	if found, _ := p.GetItem(ctx, "session", &tok); found {
		t.Error("entry readable after expiry")
	}
	keys, err := p.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "stays" {
		t.Errorf("keys = %v", keys)
	}
}

func TestSQLiteProvider_Batch(t *testing.T) {
	ctx := context.Background()
	p, _ := newSQLiteProvider(t)

	items := []storage.BatchItem{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
	}
	if err := p.MultiSet(ctx, items); err != nil {
		t.Fatalf("multi set: %v", err)
	}
	got, err := p.MultiGet(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("multi get: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" {
		t.Errorf("got %v", got)
	}
	if err := p.MultiRemove(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("multi remove: %v", err)
	}
	info, _ := p.Info(ctx)
	if info.ItemCount != 0 {
		t.Errorf("item count = %d after remove", info.ItemCount)
	}
}

func TestSQLiteProvider_BackupCarriesTTL(t *testing.T) {
	ctx := context.Background()
	p, _ := newSQLiteProvider(t)

	p.SetItem(ctx, "session", "tok", storage.Options{TTL: time.Hour})
	p.SetItem(ctx, "settings:vol", 3, storage.Options{})

	b, err := p.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Expiry is exported as a ttl: entry so file and memory providers can
	// restore it.
	if _, ok := b.Data[storage.TTLKey("session")]; !ok {
		t.Error("backup lost the session TTL")
	}

	dst, dstClock := testutil.NewMemoryProvider(t)
	if err := dst.Restore(ctx, b); err != nil {
		t.Fatalf("restore: %v", err)
	}
	var tok string
	if found, _ := dst.GetItem(ctx, "session", &tok); !found || tok != "tok" {
		t.Errorf("session after restore: %q found=%v", tok, found)
	}
	dstClock.Advance(2 * time.Hour)
	if found, _ := dst.GetItem(ctx, "session", &tok); found {
		t.Error("restored entry ignored its TTL")
	}
}

func TestSQLiteProvider_RestoreFoldsTTLEntries(t *testing.T) {
	ctx := context.Background()

	src, _ := testutil.NewMemoryProvider(t)
	src.SetItem(ctx, "session", "tok", storage.Options{TTL: time.Hour})
	b, err := src.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	dst, clock := newSQLiteProvider(t)
	if err := dst.Restore(ctx, b); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The ttl: bookkeeping entry becomes an expires_at column value, not a
	// visible key.
	keys, _ := dst.Keys(ctx)
	if len(keys) != 1 || keys[0] != "session" {
		t.Errorf("keys = %v", keys)
	}

	var tok string
	if found, _ := dst.GetItem(ctx, "session", &tok); !found {
		t.Fatal("session absent after restore")
	}
	clock.Advance(2 * time.Hour)
	if found, _ := dst.GetItem(ctx, "session", &tok); found {
		t.Error("restored entry ignored its TTL")
	}
}

func TestSQLiteProvider_SchemaStep(t *testing.T) {
	ctx := context.Background()
	deps, clock := testutil.ProviderDeps()
	p := provider.NewSQLiteProvider("test", "test:", t.TempDir(), 0, deps)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("initializing sqlite provider: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if err := p.SetItem(ctx, "session", "tok", storage.Options{TTL: time.Minute}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Step the table schema down to v1 (drops the expiry index); data survives.
	if err := p.Migrate(ctx, 2, 1); err != nil {
		t.Fatalf("stepping down: %v", err)
	}
	var got string
	found, err := p.GetItem(ctx, "session", &got)
	if err != nil || !found {
		t.Fatalf("get after down-step: found=%v err=%v", found, err)
	}
	if got != "tok" {
		t.Errorf("got %q after down-step", got)
	}

	// Back up to v2; expiry enforcement still works.
	if err := p.Migrate(ctx, 1, 2); err != nil {
		t.Fatalf("stepping up: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if found, _ := p.GetItem(ctx, "session", &got); found {
		t.Error("expired entry still readable after re-step")
	}

	// Targets beyond the newest embedded schema clamp instead of failing,
	// since data schema versions run ahead of the table schema.
	if err := p.Migrate(ctx, 2, 99); err != nil {
		t.Errorf("clamped step: %v", err)
	}
	if err := p.Migrate(ctx, 2, 0); err == nil {
		t.Error("expected an error for schema version 0")
	}
}
