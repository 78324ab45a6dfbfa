// Package manager is the persistence layer's top-level façade: it owns the
// active provider, wires the domain repositories and migration engine to it,
// and implements provider switching, health checks, backup, restore and
// cloud sync.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gamevault/internal/config"
	"gamevault/internal/encryption"
	"gamevault/internal/migration"
	"gamevault/internal/provider"
	"gamevault/internal/repository"
	"gamevault/internal/storage"
)

// switchMarker is persisted under storage.SwitchPendingKey on the provider
// being switched away from. It survives a crash mid-switch; Initialize
// surfaces a leftover marker as a health warning.
type switchMarker struct {
	FromProvider string    `json:"fromProvider"`
	ToProvider   string    `json:"toProvider"`
	StartedAt    time.Time `json:"startedAt"`
}

// Deps carries the manager's injectable collaborators. Zero-value fields are
// built from config (sealer, mirror) or defaulted (clock, ids, logger).
type Deps struct {
	Sealer encryption.Sealer
	Mirror provider.Mirror
	Clock  storage.Clock
	IDs    storage.IDGenerator
	Logger storage.Logger
}

// Manager owns exactly one active provider at a time plus the repositories
// bound to it.
type Manager struct {
	deps Deps

	mu            sync.Mutex
	cfg           *config.Config
	provider      storage.Provider
	engine        *migration.Engine
	profiles      *repository.UserProfileRepository
	progress      *repository.GameProgressRepository
	settings      *repository.SettingsRepository
	pendingSwitch bool
}

// New creates an uninitialized manager. Call Initialize before use.
func New(cfg *config.Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = storage.RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = storage.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = storage.NewNopLogger()
	}
	return &Manager{deps: deps, cfg: cfg}
}

// Initialize constructs the configured provider, initializes it, binds the
// repositories and migration engine, and — when configured — runs pending
// data migrations. Idempotent: re-initializing an already-initialized manager
// is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider != nil {
		return nil
	}

	if m.deps.Sealer == nil {
		sealer, err := encryption.NewSealerFromConfig(m.cfg.Encryption)
		if err != nil {
			return &storage.InitializationError{Component: "storage manager", Err: err}
		}
		m.deps.Sealer = sealer
	}
	if m.deps.Mirror == nil && m.cfg.Sync.Type == "s3" {
		mirror, err := provider.NewS3Mirror(ctx, m.cfg.Sync)
		if err != nil {
			return &storage.InitializationError{Component: "storage manager", Err: err}
		}
		m.deps.Mirror = mirror
	}

	p, err := provider.NewProviderFromConfig(m.cfg, m.providerDeps())
	if err != nil {
		return &storage.InitializationError{Component: "storage manager", Err: err}
	}
	if err := p.Initialize(ctx); err != nil {
		return err
	}

	if err := m.bindLocked(ctx, p); err != nil {
		return err
	}

	if m.cfg.Migration.Auto {
		if _, err := m.engine.Migrate(ctx); err != nil {
			return fmt.Errorf("running startup migrations: %w", err)
		}
	}
	return nil
}

func (m *Manager) providerDeps() provider.Deps {
	return provider.Deps{
		Sealer: m.deps.Sealer,
		Clock:  m.deps.Clock,
		Logger: m.deps.Logger,
		Mirror: m.deps.Mirror,
	}
}

// bindLocked makes p the active provider and rebinds the repositories and
// migration engine to it. Caller holds m.mu.
func (m *Manager) bindLocked(ctx context.Context, p storage.Provider) error {
	var marker switchMarker
	found, err := p.GetItem(ctx, storage.SwitchPendingKey, &marker)
	if err == nil && found {
		m.deps.Logger.Warn("unfinished provider switch detected",
			"from", marker.FromProvider, "to", marker.ToProvider, "startedAt", marker.StartedAt)
		m.pendingSwitch = true
	} else {
		m.pendingSwitch = false
	}

	engine := migration.NewEngine(p, m.deps.Clock, m.deps.Logger)
	if err := migration.RegisterPlatformMigrations(engine); err != nil {
		return &storage.InitializationError{Component: "migration engine", Err: err}
	}

	cacheTTL := time.Duration(m.cfg.Cache.TTLSeconds) * time.Second
	m.provider = p
	m.engine = engine
	m.profiles = repository.NewUserProfileRepository(p, cacheTTL, m.deps.Clock, m.deps.IDs, m.deps.Logger)
	m.progress = repository.NewGameProgressRepository(p, cacheTTL, m.deps.Clock, m.deps.Logger)
	m.settings = repository.NewSettingsRepository(p, cacheTTL, m.deps.Clock, m.deps.Logger)
	return nil
}

func (m *Manager) active() (storage.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provider == nil {
		return nil, fmt.Errorf("storage manager not initialized")
	}
	return m.provider, nil
}

// Provider returns the active provider.
func (m *Manager) Provider() storage.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Engine returns the migration engine bound to the active provider.
func (m *Manager) Engine() *migration.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

// Profiles returns the user profile repository.
func (m *Manager) Profiles() *repository.UserProfileRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles
}

// Progress returns the game progress repository.
func (m *Manager) Progress() *repository.GameProgressRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Settings returns the settings repository.
func (m *Manager) Settings() *repository.SettingsRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Backup exports a full snapshot of the active provider.
func (m *Manager) Backup(ctx context.Context) (*storage.Backup, error) {
	p, err := m.active()
	if err != nil {
		return nil, err
	}
	return p.Backup(ctx)
}

// Restore imports a snapshot into the active provider and invalidates all
// repository caches. The snapshot's checksum must validate or nothing is
// written.
func (m *Manager) Restore(ctx context.Context, b *storage.Backup) error {
	p, err := m.active()
	if err != nil {
		return err
	}
	if err := p.Restore(ctx, b); err != nil {
		return err
	}
	m.invalidateCaches()
	return nil
}

// Sync pushes a snapshot to the provider's remote counterpart. Fails on
// providers without the cloudSync capability.
func (m *Manager) Sync(ctx context.Context) error {
	p, err := m.active()
	if err != nil {
		return err
	}
	if !p.Capabilities().CloudSync {
		return fmt.Errorf("provider %s does not support cloud sync", p.Name())
	}
	syncer, ok := p.(storage.Syncer)
	if !ok {
		return fmt.Errorf("provider %s does not support cloud sync", p.Name())
	}
	return syncer.Sync(ctx)
}

// RestoreFromCloud pulls the latest snapshot from the mirror and restores it
// into the active provider.
func (m *Manager) RestoreFromCloud(ctx context.Context) error {
	m.mu.Lock()
	mirror := m.deps.Mirror
	m.mu.Unlock()
	if mirror == nil {
		return fmt.Errorf("no cloud mirror configured")
	}

	b, err := mirror.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pulling cloud snapshot: %w", err)
	}
	return m.Restore(ctx, b)
}

// SwitchProvider replaces the active provider with one built from newCfg.
// When migrateData is true and both providers support backup, the current
// data is snapshotted and restored into the new provider. The switch is
// two-phase: a pending marker is written to the old provider first and
// cleared only after the swap commits, so a crash mid-switch is detectable
// on the next initialization of the old provider. The old provider is
// abandoned after a successful swap.
func (m *Manager) SwitchProvider(ctx context.Context, newCfg *config.Config, migrateData bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider == nil {
		return fmt.Errorf("storage manager not initialized")
	}
	old := m.provider

	newP, err := provider.NewProviderFromConfig(newCfg, m.providerDeps())
	if err != nil {
		return fmt.Errorf("constructing new provider: %w", err)
	}
	if err := newP.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing new provider: %w", err)
	}

	marker := switchMarker{
		FromProvider: old.Name(),
		ToProvider:   newP.Name(),
		StartedAt:    m.deps.Clock.Now().UTC(),
	}
	if err := old.SetItem(ctx, storage.SwitchPendingKey, marker, storage.Options{}); err != nil {
		return fmt.Errorf("marking switch pending: %w", err)
	}

	if migrateData {
		if !old.Capabilities().Backup || !newP.Capabilities().Backup {
			return fmt.Errorf("data migration requires backup support on both providers")
		}
		b, err := old.Backup(ctx)
		if err != nil {
			return fmt.Errorf("backing up current provider: %w", err)
		}
		// The marker key travels with the backup; drop it so the new
		// provider doesn't start life flagged as mid-switch.
		delete(b.Data, storage.SwitchPendingKey)
		checksum, err := storage.BackupChecksum(b.Data)
		if err != nil {
			return err
		}
		b.Metadata.Checksum = checksum
		if err := newP.Restore(ctx, b); err != nil {
			return fmt.Errorf("restoring into new provider: %w", err)
		}
	}

	m.cfg = newCfg
	if err := m.bindLocked(ctx, newP); err != nil {
		return err
	}

	// Commit: clear the marker on the abandoned provider and release it.
	if err := old.RemoveItem(ctx, storage.SwitchPendingKey); err != nil {
		m.deps.Logger.Warn("clearing switch marker failed", "provider", old.Name(), "error", err)
	}
	if err := old.Close(); err != nil {
		m.deps.Logger.Warn("closing old provider failed", "provider", old.Name(), "error", err)
	}

	m.deps.Logger.Info("provider switched", "from", marker.FromProvider, "to", marker.ToProvider, "migrated", migrateData)
	return nil
}

func (m *Manager) invalidateCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles != nil {
		m.profiles.InvalidateCache()
	}
	if m.progress != nil {
		m.progress.InvalidateCache()
	}
	if m.settings != nil {
		m.settings.InvalidateCache()
	}
}

// Close releases the active provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provider == nil {
		return nil
	}
	err := m.provider.Close()
	m.provider = nil
	return err
}
