package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gamevault/internal/config"
	"gamevault/internal/encryption"
	"gamevault/internal/storage"
	"gamevault/internal/testutil"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Namespace: "test:",
		Provider:  config.ProviderConfig{Type: "memory", Name: "ephemeral"},
		Cache:     config.CacheConfig{TTLSeconds: 300},
	}
}

func fileConfig(root string) *config.Config {
	cfg := memoryConfig()
	cfg.Provider = config.ProviderConfig{Type: "file", Name: "device", Root: root}
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	m := New(cfg, Deps{
		Sealer: encryption.NewTestSealer(),
		Clock:  clock,
		IDs:    testutil.NewStubIDGenerator(),
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, clock
}

// stubMirror is an in-memory cloud mirror.
type stubMirror struct {
	mu       sync.Mutex
	snapshot *storage.Backup
}

func (s *stubMirror) Push(ctx context.Context, b *storage.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = b
	return nil
}

func (s *stubMirror) Pull(ctx context.Context) (*storage.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, fmt.Errorf("no snapshot pushed")
	}
	return s.snapshot, nil
}

func TestManager_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("binds repositories", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())

		profile, err := m.Profiles().Create(ctx, "alice")
		if err != nil {
			t.Fatalf("create profile: %v", err)
		}
		got, err := m.Profiles().FindByID(ctx, profile.ID)
		if err != nil || got == nil {
			t.Fatalf("find: %+v err=%v", got, err)
		}

		if _, err := m.Progress().UpdateScore(ctx, "tetris", 50); err != nil {
			t.Fatalf("update score: %v", err)
		}
		if err := m.Settings().SetSetting(ctx, "volume", 7); err != nil {
			t.Fatalf("set setting: %v", err)
		}
	})

	t.Run("re-initialize is a no-op", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())
		p := m.Provider()
		if err := m.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if m.Provider() != p {
			t.Error("re-initialization replaced the provider")
		}
	})

	t.Run("auto migration runs on startup", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Migration.Auto = true
		m, _ := newTestManager(t, cfg)

		v, err := m.Engine().CurrentVersion(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v == 0 {
			t.Error("startup migrations did not run")
		}
	})
}

func TestManager_BackupRestore(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, memoryConfig())

	profile, err := m.Profiles().Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	m.Settings().SetSetting(ctx, "volume", 7)

	b, err := m.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Wreck the live store, then restore the snapshot.
	if err := m.Provider().Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Restore(ctx, b); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := m.Profiles().FindByID(ctx, profile.ID)
	if err != nil || got == nil || got.Username != "alice" {
		t.Errorf("profile after restore: %+v err=%v", got, err)
	}
	var volume int
	if found, _ := m.Settings().GetSetting(ctx, "volume", &volume); !found || volume != 7 {
		t.Errorf("setting after restore: %d found=%v", volume, found)
	}
}

func TestManager_SwitchProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates data to the new provider", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())
		old := m.Provider()

		profile, err := m.Profiles().Create(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}

		if err := m.SwitchProvider(ctx, fileConfig(t.TempDir()), true); err != nil {
			t.Fatalf("switch: %v", err)
		}
		if m.Provider() == old {
			t.Fatal("provider not swapped")
		}
		if m.Provider().Name() != "device" {
			t.Errorf("active provider = %s", m.Provider().Name())
		}

		got, err := m.Profiles().FindByID(ctx, profile.ID)
		if err != nil || got == nil || got.Username != "alice" {
			t.Errorf("profile after switch: %+v err=%v", got, err)
		}

		// The commit cleared the pending marker on the old provider.
		if has, _ := old.HasItem(ctx, storage.SwitchPendingKey); has {
			t.Error("switch marker left on old provider")
		}

		report, err := m.HealthCheck(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.PendingSwitch {
			t.Error("completed switch still reported pending")
		}
	})

	t.Run("switch without data migration starts empty", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())
		m.Settings().SetSetting(ctx, "volume", 7)

		if err := m.SwitchProvider(ctx, fileConfig(t.TempDir()), false); err != nil {
			t.Fatalf("switch: %v", err)
		}
		var volume int
		if found, _ := m.Settings().GetSetting(ctx, "volume", &volume); found {
			t.Error("data leaked into the new provider")
		}
	})
}

func TestManager_PendingSwitchDetection(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// Simulate a crash mid-switch: the marker is on disk, the swap never
	// committed.
	p, _ := testutil.NewFileProviderAt(t, root)
	marker := switchMarker{FromProvider: "device", ToProvider: "sqlite"}
	if err := p.SetItem(ctx, storage.SwitchPendingKey, marker, storage.Options{}); err != nil {
		t.Fatal(err)
	}
	p.Close()

	cfg := fileConfig(root)
	cfg.Namespace = "test:"
	m, _ := newTestManager(t, cfg)

	report, err := m.HealthCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.PendingSwitch {
		t.Error("leftover switch marker not detected")
	}
	if report.Status != Degraded {
		t.Errorf("status = %s, want %s", report.Status, Degraded)
	}
	if len(report.Diagnostics) == 0 {
		t.Error("no diagnostic for the unfinished switch")
	}
}

func TestManager_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy store", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())
		m.Settings().SetSetting(ctx, "volume", 7)

		report, err := m.HealthCheck(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.Status != Healthy {
			t.Errorf("status = %s: %v", report.Status, report.Diagnostics)
		}
		if report.ItemCount != 1 {
			t.Errorf("item count = %d", report.ItemCount)
		}
		if report.Provider != "ephemeral" {
			t.Errorf("provider = %s", report.Provider)
		}
	})

	t.Run("nearly full store is unhealthy", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Provider.CapacityBytes = 300
		m, _ := newTestManager(t, cfg)

		m.Settings().SetSetting(ctx, "blob", strings.Repeat("x", 500))

		report, err := m.HealthCheck(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.Status != Unhealthy {
			t.Errorf("status = %s, want %s", report.Status, Unhealthy)
		}
		if report.UsedPercent <= 0.90 {
			t.Errorf("used percent = %v", report.UsedPercent)
		}
	})
}

func TestManager_CloudSync(t *testing.T) {
	ctx := context.Background()

	t.Run("sync pushes a snapshot", func(t *testing.T) {
		mirror := &stubMirror{}
		clock := testutil.FixedClock()
		m := New(memoryConfig(), Deps{
			Sealer: encryption.NewTestSealer(),
			Mirror: mirror,
			Clock:  clock,
			IDs:    testutil.NewStubIDGenerator(),
		})
		if err := m.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		defer m.Close()

		m.Settings().SetSetting(ctx, "volume", 7)
		if err := m.Sync(ctx); err != nil {
			t.Fatalf("sync: %v", err)
		}
		if mirror.snapshot == nil {
			t.Fatal("nothing pushed")
		}

		// Wreck local state and pull the snapshot back.
		m.Provider().Clear(ctx)
		if err := m.RestoreFromCloud(ctx); err != nil {
			t.Fatalf("restore from cloud: %v", err)
		}
		var volume int
		if found, _ := m.Settings().GetSetting(ctx, "volume", &volume); !found || volume != 7 {
			t.Errorf("setting after cloud restore: %d found=%v", volume, found)
		}
	})

	t.Run("sync without a mirror fails", func(t *testing.T) {
		m, _ := newTestManager(t, memoryConfig())
		if err := m.Sync(ctx); err == nil {
			t.Error("expected error without a mirror")
		}
	})
}
