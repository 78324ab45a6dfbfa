package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gamevault/internal/config"
	"gamevault/internal/encryption"
	"gamevault/internal/manager"
	"gamevault/internal/migration"
	"gamevault/internal/storage"
)

// App is the application layer between the CLI and the storage manager.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the provider lifecycle on Close.
type App struct {
	cfg     *config.Config
	manager *manager.Manager
	logFile *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Backup", "MigrateRun"); every
// log line of this invocation carries it. The caller must call Close when
// done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	opID := newOperationID(time.Now()) + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	m := manager.New(cfg, manager.Deps{Logger: &slogAdapter{l: logger}})
	if err := m.Initialize(ctx); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("initializing storage manager: %w", err)
	}

	return &App{cfg: cfg, manager: m, logFile: logFile}, nil
}

// Manager exposes the underlying storage manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// BackupToFile exports a snapshot of the active provider to path. A
// non-empty passphrase protects the file with age passphrase encryption.
func (a *App) BackupToFile(ctx context.Context, path, passphrase string) error {
	b, err := a.manager.Backup(ctx)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if passphrase != "" {
		enc, err := encryption.ProtectBackup(f, passphrase)
		if err != nil {
			return err
		}
		defer enc.Close()
		w = enc
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(b); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	return nil
}

// RestoreFromFile imports a snapshot file into the active provider. A
// non-empty passphrase decrypts a protected backup file.
func (a *App) RestoreFromFile(ctx context.Context, path, passphrase string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if passphrase != "" {
		dec, err := encryption.OpenProtectedBackup(f, passphrase)
		if err != nil {
			return err
		}
		r = dec
	}

	var b storage.Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}
	if err := a.manager.Restore(ctx, &b); err != nil {
		return fmt.Errorf("restoring backup: %w", err)
	}
	return nil
}

// Migrate applies all pending data migrations.
func (a *App) Migrate(ctx context.Context) (*migration.Result, error) {
	return a.manager.Engine().Migrate(ctx)
}

// Rollback reverts data migrations down to targetVersion.
func (a *App) Rollback(ctx context.Context, targetVersion int) (*migration.Result, error) {
	return a.manager.Engine().Rollback(ctx, targetVersion)
}

// MigrationStatus reports the engine's persisted metadata.
func (a *App) MigrationStatus(ctx context.Context) (*migration.Metadata, error) {
	return a.manager.Engine().Metadata(ctx)
}

// ResetMigrations clears migration state. Destructive.
func (a *App) ResetMigrations(ctx context.Context) error {
	return a.manager.Engine().Reset(ctx)
}

// HealthCheck runs a live probe of the active provider.
func (a *App) HealthCheck(ctx context.Context) (*manager.HealthReport, error) {
	return a.manager.HealthCheck(ctx)
}

// Info reports the active provider's storage accounting.
func (a *App) Info(ctx context.Context) (*storage.Info, error) {
	return a.manager.Provider().Info(ctx)
}

// Sync pushes a snapshot to the configured cloud mirror.
func (a *App) Sync(ctx context.Context) error {
	return a.manager.Sync(ctx)
}

// SwitchProvider moves the persistence layer onto the named provider type,
// optionally migrating data across.
func (a *App) SwitchProvider(ctx context.Context, providerType string, migrateData bool) error {
	newCfg := *a.cfg
	newCfg.Provider = config.ProviderConfig{
		Type:          providerType,
		Name:          providerType,
		CapacityBytes: a.cfg.Provider.CapacityBytes,
		Root:          a.cfg.Provider.Root,
		DataDir:       a.cfg.Provider.DataDir,
	}
	return a.manager.SwitchProvider(ctx, &newCfg, migrateData)
}

// Close releases the provider and the log file.
func (a *App) Close() error {
	err := a.manager.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
