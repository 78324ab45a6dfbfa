package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gamevault/internal/provider/migrations"
	"gamevault/internal/storage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteProvider stores entries in a single SQLite table. Unlike the file and
// memory providers it tracks TTL natively in an expires_at column, and its
// table schema is versioned with golang-migrate — the Migrate hook steps that
// schema. Cross-provider backups still carry expiry as ttl:<key> entries so a
// SQLite backup restores faithfully onto a file provider and vice versa.
type SQLiteProvider struct {
	name      string
	namespace string
	path      string
	capacity  int64
	deps      Deps

	db *sql.DB
}

// NewSQLiteProvider creates a provider whose database lives at
// <dataDir>/gamevault.db, or in memory when dataDir is empty. Call Initialize
// before use.
func NewSQLiteProvider(name, namespace, dataDir string, capacity int64, deps Deps) *SQLiteProvider {
	path := ":memory:"
	if dataDir != "" {
		path = filepath.Join(dataDir, "gamevault.db")
	}
	return &SQLiteProvider{
		name:      name,
		namespace: namespace,
		path:      path,
		capacity:  capacity,
		deps:      deps.fillDefaults(),
	}
}

var _ storage.Provider = (*SQLiteProvider)(nil)
var _ storage.Syncer = (*SQLiteProvider)(nil)

func (p *SQLiteProvider) Name() string { return p.name }

func (p *SQLiteProvider) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Encryption:      p.deps.Sealer != nil,
		Compression:     true,
		CloudSync:       p.deps.Mirror != nil,
		Migration:       true,
		Backup:          true,
		TTL:             true,
		BatchOperations: true,
	}
}

// Initialize opens the database, applies pending schema migrations and
// provisions the sealer key. Idempotent.
func (p *SQLiteProvider) Initialize(ctx context.Context) error {
	if p.db == nil {
		if dir := filepath.Dir(p.path); p.path != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return &storage.InitializationError{Component: "sqlite provider", Err: err}
			}
		}
		db, err := openConnection(p.path)
		if err != nil {
			return &storage.InitializationError{Component: "sqlite provider", Err: err}
		}
		if err := migrations.Up(db); err != nil {
			db.Close()
			return &storage.InitializationError{Component: "sqlite provider", Err: err}
		}
		p.db = db
	}
	if p.deps.Sealer != nil {
		if err := p.deps.Sealer.Initialize(); err != nil {
			return &storage.InitializationError{Component: "sqlite provider", Err: err}
		}
	}
	return nil
}

// openConnection opens and configures a SQLite connection with the PRAGMAs
// the provider relies on.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (p *SQLiteProvider) ready() error {
	if p.db == nil {
		return fmt.Errorf("sqlite provider not initialized")
	}
	return nil
}

func (p *SQLiteProvider) physical(key string) string { return p.namespace + key }

func (p *SQLiteProvider) SetItem(ctx context.Context, key string, value any, opts storage.Options) error {
	if err := p.ready(); err != nil {
		return err
	}
	data, sealed, err := encodeEntry(value, opts, p.deps)
	if err != nil {
		return err
	}

	now := p.deps.Clock.Now()
	var expiresAt sql.NullInt64
	if opts.TTL > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(opts.TTL).UnixMilli(), Valid: true}
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (key, data, sealed, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		p.physical(key), data, sealed, now.UnixMilli(), expiresAt)
	if err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) GetItem(ctx context.Context, key string, dest any) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}

	var data []byte
	var sealed bool
	var expiresAt sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT data, sealed, expires_at FROM entries WHERE key = ?`, p.physical(key)).
		Scan(&data, &sealed, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		// Best-effort read policy: backend read failures degrade to absent.
		p.deps.Logger.Warn("entry read failed", "key", key, "error", err)
		return false, nil
	}

	if expiresAt.Valid && p.deps.Clock.Now().UnixMilli() > expiresAt.Int64 {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, p.physical(key)); err != nil {
			p.deps.Logger.Warn("purging expired entry failed", "key", key, "error", err)
		}
		return false, nil
	}

	raw, _, err := decodeEntry(data, sealed, p.deps)
	if err != nil {
		p.deps.Logger.Warn("unreadable entry", "key", key, "error", err)
		return false, nil
	}
	if err := decodeInto(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (p *SQLiteProvider) RemoveItem(ctx context.Context, key string) error {
	if err := p.ready(); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, p.physical(key)); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) Clear(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE key LIKE ?`, p.namespace+"%"); err != nil {
		return fmt.Errorf("clearing entries: %w", err)
	}
	return nil
}

// purgeExpired removes every elapsed entry in one statement.
func (p *SQLiteProvider) purgeExpired(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at < ?`,
		p.deps.Clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("purging expired entries: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) Keys(ctx context.Context) ([]string, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := p.purgeExpired(ctx); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `SELECT key FROM entries WHERE key LIKE ?`, p.namespace+"%")
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var physical string
		if err := rows.Scan(&physical); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, strings.TrimPrefix(physical, p.namespace))
	}
	return keys, rows.Err()
}

func (p *SQLiteProvider) HasItem(ctx context.Context, key string) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}

	var expiresAt sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT expires_at FROM entries WHERE key = ?`, p.physical(key)).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		p.deps.Logger.Warn("entry read failed", "key", key, "error", err)
		return false, nil
	}
	if expiresAt.Valid && p.deps.Clock.Now().UnixMilli() > expiresAt.Int64 {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, p.physical(key)); err != nil {
			p.deps.Logger.Warn("purging expired entry failed", "key", key, "error", err)
		}
		return false, nil
	}
	return true, nil
}

func (p *SQLiteProvider) Info(ctx context.Context) (*storage.Info, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := p.purgeExpired(ctx); err != nil {
		return nil, err
	}

	var count int
	var used sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM entries WHERE key LIKE ?`,
		p.namespace+"%").Scan(&count, &used)
	if err != nil {
		return nil, fmt.Errorf("computing storage info: %w", err)
	}
	return accountingInfo(p.capacity, used.Int64, count), nil
}

func (p *SQLiteProvider) MultiSet(ctx context.Context, items []storage.BatchItem) error {
	if err := p.ready(); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting batch write: %w", err)
	}
	defer tx.Rollback()

	now := p.deps.Clock.Now()
	for _, item := range items {
		data, sealed, err := encodeEntry(item.Value, item.Options, p.deps)
		if err != nil {
			return fmt.Errorf("encoding %q: %w", item.Key, err)
		}
		var expiresAt sql.NullInt64
		if item.Options.TTL > 0 {
			expiresAt = sql.NullInt64{Int64: now.Add(item.Options.TTL).UnixMilli(), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries (key, data, sealed, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
			p.physical(item.Key), data, sealed, now.UnixMilli(), expiresAt)
		if err != nil {
			return fmt.Errorf("writing %q: %w", item.Key, err)
		}
	}
	return tx.Commit()
}

func (p *SQLiteProvider) MultiGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var raw json.RawMessage
		found, err := p.GetItem(ctx, key, &raw)
		if err != nil {
			return nil, err
		}
		if found {
			out[key] = raw
		}
	}
	return out, nil
}

func (p *SQLiteProvider) MultiRemove(ctx context.Context, keys []string) error {
	if err := p.ready(); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting batch remove: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, p.physical(key)); err != nil {
			return fmt.Errorf("removing %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// Migrate steps the provider's table schema to toVersion. fromVersion is
// advisory; golang-migrate tracks the actual current version itself. Data
// schema versions can run ahead of the table schema, so targets beyond the
// newest embedded schema file clamp to it.
func (p *SQLiteProvider) Migrate(ctx context.Context, fromVersion, toVersion int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if toVersion < 1 {
		return fmt.Errorf("invalid schema version %d", toVersion)
	}
	latest, err := migrations.Latest()
	if err != nil {
		return fmt.Errorf("resolving latest schema version: %w", err)
	}
	if uint(toVersion) > latest {
		toVersion = int(latest)
	}
	p.deps.Logger.Info("stepping sqlite schema", "from", fromVersion, "to", toVersion)
	return migrations.To(p.db, uint(toVersion))
}

func (p *SQLiteProvider) Backup(ctx context.Context) (*storage.Backup, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := p.purgeExpired(ctx); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT key, data, sealed, expires_at FROM entries WHERE key LIKE ?`, p.namespace+"%")
	if err != nil {
		return nil, fmt.Errorf("reading entries for backup: %w", err)
	}
	defer rows.Close()

	data := make(map[string]json.RawMessage)
	for rows.Next() {
		var physical string
		var blob []byte
		var sealed bool
		var expiresAt sql.NullInt64
		if err := rows.Scan(&physical, &blob, &sealed, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		key := strings.TrimPrefix(physical, p.namespace)
		raw, _, err := decodeEntry(blob, sealed, p.deps)
		if err != nil {
			return nil, fmt.Errorf("reading %q for backup: %w", key, err)
		}
		data[key] = raw
		if expiresAt.Valid {
			ttlRaw, err := json.Marshal(expiryValue{ExpiresAt: expiresAt.Int64})
			if err != nil {
				return nil, err
			}
			data[storage.TTLKey(key)] = ttlRaw
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assembleBackup(ctx, p, p.name, data, p.deps.Clock)
}

func (p *SQLiteProvider) Restore(ctx context.Context, b *storage.Backup) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := storage.VerifyBackup(b); err != nil {
		return err
	}

	// Fold ttl:<key> entries from cross-provider backups back into the
	// expires_at column.
	expiries := make(map[string]int64)
	for key, raw := range b.Data {
		sub, ok := strings.CutPrefix(key, storage.TTLKeyPrefix)
		if !ok {
			continue
		}
		var exp expiryValue
		if err := json.Unmarshal(raw, &exp); err == nil {
			expiries[sub] = exp.ExpiresAt
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting restore: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key LIKE ?`, p.namespace+"%"); err != nil {
		return fmt.Errorf("clearing before restore: %w", err)
	}

	now := p.deps.Clock.Now()
	for key, raw := range b.Data {
		if strings.HasPrefix(key, storage.TTLKeyPrefix) {
			continue
		}
		data, err := storage.WrapValue(raw, false, now)
		if err != nil {
			return err
		}
		var expiresAt sql.NullInt64
		if ms, ok := expiries[key]; ok {
			expiresAt = sql.NullInt64{Int64: ms, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries (key, data, sealed, updated_at, expires_at) VALUES (?, ?, 0, ?, ?)`,
			p.physical(key), data, now.UnixMilli(), expiresAt)
		if err != nil {
			return fmt.Errorf("restoring %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (p *SQLiteProvider) Sync(ctx context.Context) error {
	return pushToMirror(ctx, p, p.deps)
}

func (p *SQLiteProvider) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
