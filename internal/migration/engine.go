// Package migration implements versioned data migrations for stored records:
// forward Up transforms applied in ascending version order, optional Down
// transforms for rollback, and persisted metadata that is the single source
// of truth for what schema state the data is in.
package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gamevault/internal/storage"
)

// Migration is one versioned transform of persisted data. Versions are
// positive, unique, and applied in strictly ascending order. Up must be
// idempotent: a crash between a step completing and its metadata commit
// replays the step on retry. Down is optional; a migration without one cannot
// be rolled back past.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, p storage.Provider) error
	Down        func(ctx context.Context, p storage.Provider) error
}

// ActionMigrate and ActionRollback label history entries.
const (
	ActionMigrate  = "migrate"
	ActionRollback = "rollback"
)

// Metadata is the engine's persisted state, stored under
// storage.MigrationMetadataKey.
type Metadata struct {
	CurrentVersion    int            `json:"currentVersion"`
	AppliedMigrations []int          `json:"appliedMigrations"`
	LastMigrationDate *time.Time     `json:"lastMigrationDate,omitempty"`
	History           []HistoryEntry `json:"history"`
}

// HistoryEntry is one append-only record of a migrate or rollback step.
type HistoryEntry struct {
	Version       int       `json:"version"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`
	TargetVersion *int      `json:"targetVersion,omitempty"`
}

// Result reports what a Migrate or Rollback run actually did. A failed run
// still carries the steps that committed before the failure.
type Result struct {
	Success     bool
	FromVersion int
	ToVersion   int
	Applied     []int // versions applied (migrate) or rolled back (rollback)
	Errors      []string
}

// Engine drives migrations against a single provider.
type Engine struct {
	provider storage.Provider
	clock    storage.Clock
	logger   storage.Logger

	mu         sync.Mutex
	migrations []Migration
}

// NewEngine creates an engine bound to provider.
func NewEngine(provider storage.Provider, clock storage.Clock, logger storage.Logger) *Engine {
	if clock == nil {
		clock = storage.RealClock{}
	}
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &Engine{provider: provider, clock: clock, logger: logger}
}

// Register adds a migration. Versions must be positive and unique; Up is
// required.
func (e *Engine) Register(m Migration) error {
	if m.Version <= 0 {
		return fmt.Errorf("migration version must be positive, got %d", m.Version)
	}
	if m.Up == nil {
		return fmt.Errorf("migration %d has no up transform", m.Version)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.migrations {
		if existing.Version == m.Version {
			return fmt.Errorf("migration version %d already registered", m.Version)
		}
	}
	e.migrations = append(e.migrations, m)
	sort.Slice(e.migrations, func(i, j int) bool {
		return e.migrations[i].Version < e.migrations[j].Version
	})
	return nil
}

// registered returns a snapshot of the sorted migration list.
func (e *Engine) registered() []Migration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Migration, len(e.migrations))
	copy(out, e.migrations)
	return out
}

// Metadata loads the persisted migration state. An unversioned store yields
// zero-value metadata, not an error.
func (e *Engine) Metadata(ctx context.Context) (*Metadata, error) {
	var meta Metadata
	found, err := e.provider.GetItem(ctx, storage.MigrationMetadataKey, &meta)
	if err != nil {
		return nil, fmt.Errorf("loading migration metadata: %w", err)
	}
	if !found {
		return &Metadata{}, nil
	}
	return &meta, nil
}

func (e *Engine) saveMetadata(ctx context.Context, meta *Metadata) error {
	if err := e.provider.SetItem(ctx, storage.MigrationMetadataKey, meta, storage.Options{}); err != nil {
		return fmt.Errorf("persisting migration metadata: %w", err)
	}
	return nil
}

// CurrentVersion returns the schema version the data is currently at.
func (e *Engine) CurrentVersion(ctx context.Context) (int, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return meta.CurrentVersion, nil
}

// NeedsMigration reports whether any registered migration is newer than the
// current version.
func (e *Engine) NeedsMigration(ctx context.Context) (bool, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range e.registered() {
		if m.Version > meta.CurrentVersion {
			return true, nil
		}
	}
	return false, nil
}

// Migrate applies all pending migrations in ascending version order. When
// the provider reports the Migration capability, its backend-level Migrate
// hook runs first so the encoding is current before any data transform
// touches it. After each individual step succeeds, updated metadata is
// persisted before the next step runs, so a failure at version N leaves
// versions below N durably applied and a retry resumes at N. The run stops
// at the first failure.
func (e *Engine) Migrate(ctx context.Context) (*Result, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Success:     true,
		FromVersion: meta.CurrentVersion,
		ToVersion:   meta.CurrentVersion,
		Applied:     []int{},
	}

	var pending []Migration
	for _, m := range e.registered() {
		if m.Version > meta.CurrentVersion {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	if target := pending[len(pending)-1].Version; e.provider.Capabilities().Migration {
		e.logger.Info("stepping backend encoding", "from", meta.CurrentVersion, "to", target)
		if err := e.provider.Migrate(ctx, meta.CurrentVersion, target); err != nil {
			stepErr := &storage.MigrationError{
				Version: target,
				Action:  ActionMigrate,
				Err:     fmt.Errorf("backend encoding migration: %w", err),
			}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			e.logger.Error("backend encoding migration failed", "target", target, "error", err)
			return result, stepErr
		}
	}

	for _, m := range pending {
		e.logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := m.Up(ctx, e.provider); err != nil {
			stepErr := &storage.MigrationError{Version: m.Version, Action: ActionMigrate, Err: err}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			e.logger.Error("migration failed", "version", m.Version, "error", err)
			return result, stepErr
		}

		now := e.clock.Now().UTC()
		meta.CurrentVersion = m.Version
		meta.AppliedMigrations = append(meta.AppliedMigrations, m.Version)
		meta.LastMigrationDate = &now
		meta.History = append(meta.History, HistoryEntry{
			Version:   m.Version,
			Action:    ActionMigrate,
			Timestamp: now,
		})
		if err := e.saveMetadata(ctx, meta); err != nil {
			stepErr := &storage.MigrationError{Version: m.Version, Action: ActionMigrate, Err: err}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			return result, stepErr
		}

		result.Applied = append(result.Applied, m.Version)
		result.ToVersion = m.Version
	}

	return result, nil
}

// Rollback moves the schema strictly backward to targetVersion, invoking each
// applied migration's Down in descending version order. A migration without
// a Down hard-stops the rollback: the partial result identifies the offending
// version and no further steps execute.
func (e *Engine) Rollback(ctx context.Context, targetVersion int) (*Result, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if targetVersion >= meta.CurrentVersion {
		return nil, fmt.Errorf("rollback target %d must be below current version %d", targetVersion, meta.CurrentVersion)
	}
	if targetVersion < 0 {
		return nil, fmt.Errorf("rollback target must not be negative, got %d", targetVersion)
	}

	result := &Result{
		Success:     true,
		FromVersion: meta.CurrentVersion,
		ToVersion:   meta.CurrentVersion,
		Applied:     []int{},
	}

	migrations := e.registered()
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= targetVersion || m.Version > meta.CurrentVersion {
			continue
		}
		if !contains(meta.AppliedMigrations, m.Version) {
			continue
		}

		if m.Down == nil {
			stepErr := &storage.MigrationError{
				Version: m.Version,
				Action:  ActionRollback,
				Err:     fmt.Errorf("migration defines no down transform"),
			}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			return result, stepErr
		}

		e.logger.Info("rolling back migration", "version", m.Version, "description", m.Description)
		if err := m.Down(ctx, e.provider); err != nil {
			stepErr := &storage.MigrationError{Version: m.Version, Action: ActionRollback, Err: err}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			e.logger.Error("rollback failed", "version", m.Version, "error", err)
			return result, stepErr
		}

		now := e.clock.Now().UTC()
		meta.AppliedMigrations = remove(meta.AppliedMigrations, m.Version)
		meta.CurrentVersion = highestBelow(meta.AppliedMigrations, m.Version)
		meta.LastMigrationDate = &now
		target := targetVersion
		meta.History = append(meta.History, HistoryEntry{
			Version:       m.Version,
			Action:        ActionRollback,
			Timestamp:     now,
			TargetVersion: &target,
		})
		if err := e.saveMetadata(ctx, meta); err != nil {
			stepErr := &storage.MigrationError{Version: m.Version, Action: ActionRollback, Err: err}
			result.Success = false
			result.Errors = append(result.Errors, stepErr.Error())
			return result, stepErr
		}

		result.Applied = append(result.Applied, m.Version)
		result.ToVersion = meta.CurrentVersion
	}

	return result, nil
}

// Reset deletes all migration metadata, returning the store to an
// unversioned state. Destructive; intended for recovery and debugging, not
// production flow.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.provider.RemoveItem(ctx, storage.MigrationMetadataKey); err != nil {
		return fmt.Errorf("resetting migration metadata: %w", err)
	}
	e.logger.Warn("migration metadata reset, store is now unversioned")
	return nil
}

func contains(versions []int, v int) bool {
	for _, x := range versions {
		if x == v {
			return true
		}
	}
	return false
}

func remove(versions []int, v int) []int {
	out := versions[:0]
	for _, x := range versions {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// highestBelow returns the largest applied version strictly below v, or 0
// when none remain.
func highestBelow(versions []int, v int) int {
	best := 0
	for _, x := range versions {
		if x < v && x > best {
			best = x
		}
	}
	return best
}
