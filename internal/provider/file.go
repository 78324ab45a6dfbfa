package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gamevault/internal/storage"
)

// FileProvider persists entries as files on device storage:
//
//	<root>/
//	  entries/
//	    <escaped key>.json   (plain entries, envelope JSON)
//	  secure/
//	    <escaped key>.age    (sealed entries, age ciphertext)
//
// Encrypt-marked writes route to the secure directory; everything else to the
// general one. Filenames are the URL-escaped physical (namespaced) key, so
// Keys can be recovered by listing the directories.
type FileProvider struct {
	name      string
	namespace string
	root      string
	plainDir  string
	secureDir string
	capacity  int64
	deps      Deps

	// Serializes multi-file operations (entry + its ttl record, backup,
	// restore) against each other.
	mu sync.Mutex
}

const (
	plainExt  = ".json"
	secureExt = ".age"
)

// NewFileProvider creates a file provider rooted at root. Call Initialize
// before use.
func NewFileProvider(name, namespace, root string, capacity int64, deps Deps) *FileProvider {
	return &FileProvider{
		name:      name,
		namespace: namespace,
		root:      root,
		plainDir:  filepath.Join(root, "entries"),
		secureDir: filepath.Join(root, "secure"),
		capacity:  capacity,
		deps:      deps.fillDefaults(),
	}
}

var _ storage.Provider = (*FileProvider)(nil)
var _ storage.Syncer = (*FileProvider)(nil)

func (p *FileProvider) Name() string { return p.name }

func (p *FileProvider) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Encryption:      p.deps.Sealer != nil,
		Compression:     true,
		CloudSync:       p.deps.Mirror != nil,
		Backup:          true,
		TTL:             true,
		BatchOperations: true,
	}
}

// Initialize creates the directory structure and provisions the sealer key.
// Idempotent.
func (p *FileProvider) Initialize(ctx context.Context) error {
	for _, dir := range []string{p.plainDir, p.secureDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &storage.InitializationError{Component: "file provider", Err: err}
		}
	}
	if p.deps.Sealer != nil {
		if err := p.deps.Sealer.Initialize(); err != nil {
			return &storage.InitializationError{Component: "file provider", Err: err}
		}
	}
	return nil
}

func (p *FileProvider) entryPath(key string, sealed bool) string {
	escaped := url.QueryEscape(p.namespace + key)
	if sealed {
		return filepath.Join(p.secureDir, escaped+secureExt)
	}
	return filepath.Join(p.plainDir, escaped+plainExt)
}

// readEntry loads the stored bytes for key from whichever store holds it.
func (p *FileProvider) readEntry(key string) (data []byte, sealed bool, found bool, err error) {
	data, err = os.ReadFile(p.entryPath(key, false))
	if err == nil {
		return data, false, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, false, err
	}
	data, err = os.ReadFile(p.entryPath(key, true))
	if err == nil {
		return data, true, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, false, err
	}
	return nil, false, false, nil
}

// writeEntry atomically writes the stored bytes for key (temp file + rename)
// and removes any stale variant in the other store.
func (p *FileProvider) writeEntry(key string, data []byte, sealed bool) error {
	destPath := p.entryPath(key, sealed)
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true

	// A key that changed encryption policy must not leave its old form behind.
	if err := os.Remove(p.entryPath(key, !sealed)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale entry variant: %w", err)
	}
	return nil
}

func (p *FileProvider) removeEntry(key string) error {
	for _, sealed := range []bool{false, true} {
		if err := os.Remove(p.entryPath(key, sealed)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing entry: %w", err)
		}
	}
	return nil
}

func (p *FileProvider) SetItem(ctx context.Context, key string, value any, opts storage.Options) error {
	data, sealed, err := encodeEntry(value, opts, p.deps)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeEntry(key, data, sealed); err != nil {
		return err
	}
	return p.writeExpiryLocked(key, opts)
}

func (p *FileProvider) writeExpiryLocked(key string, opts storage.Options) error {
	ttlKey := storage.TTLKey(key)
	if opts.TTL <= 0 {
		return p.removeEntry(ttlKey)
	}
	exp := expiryValue{ExpiresAt: p.deps.Clock.Now().Add(opts.TTL).UnixMilli()}
	data, err := storage.WrapValue(exp, false, p.deps.Clock.Now())
	if err != nil {
		return err
	}
	return p.writeEntry(ttlKey, data, false)
}

// expiredLocked enforces the parallel expiry record for key, deleting both
// files once the TTL has elapsed.
func (p *FileProvider) expiredLocked(key string) bool {
	ttlKey := storage.TTLKey(key)
	data, sealed, found, err := p.readEntry(ttlKey)
	if err != nil || !found {
		return false
	}
	raw, _, err := decodeEntry(data, sealed, p.deps)
	if err != nil {
		p.deps.Logger.Warn("unreadable expiry entry, dropping", "key", key, "error", err)
		p.removeEntry(ttlKey)
		return false
	}
	var exp expiryValue
	if err := decodeInto(raw, &exp); err != nil {
		p.removeEntry(ttlKey)
		return false
	}
	if p.deps.Clock.Now().UnixMilli() <= exp.ExpiresAt {
		return false
	}
	p.removeEntry(key)
	p.removeEntry(ttlKey)
	return true
}

func (p *FileProvider) GetItem(ctx context.Context, key string, dest any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, sealed, found, err := p.readEntry(key)
	if err != nil {
		// Best-effort read policy: backend read failures degrade to absent.
		p.deps.Logger.Warn("entry read failed", "key", key, "error", err)
		return false, nil
	}
	if !found || p.expiredLocked(key) {
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

func (p *FileProvider) RemoveItem(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.removeEntry(key); err != nil {
		return err
	}
	return p.removeEntry(storage.TTLKey(key))
}

// Clear removes every entry under this provider's namespace. Files belonging
// to another namespace sharing the directories are left alone.
func (p *FileProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for dir, ext := range map[string]string{p.plainDir: plainExt, p.secureDir: secureExt} {
		names, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, de := range names {
			name, ok := strings.CutSuffix(de.Name(), ext)
			if !ok {
				continue
			}
			physical, err := url.QueryUnescape(name)
			if err != nil || !strings.HasPrefix(physical, p.namespace) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, de.Name())); err != nil {
				return fmt.Errorf("removing %s: %w", de.Name(), err)
			}
		}
	}
	return nil
}

// listKeysLocked returns all logical keys present on disk, without expiry
// filtering. Unparseable filenames are skipped.
func (p *FileProvider) listKeysLocked() ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	for dir, ext := range map[string]string{p.plainDir: plainExt, p.secureDir: secureExt} {
		names, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, de := range names {
			name, ok := strings.CutSuffix(de.Name(), ext)
			if !ok {
				continue
			}
			physical, err := url.QueryUnescape(name)
			if err != nil {
				p.deps.Logger.Warn("skipping unparseable entry file", "file", de.Name())
				continue
			}
			key, ok := strings.CutPrefix(physical, p.namespace)
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// liveKeysLocked filters listKeysLocked down to non-expired logical keys,
// purging expired entries as a side effect.
func (p *FileProvider) liveKeysLocked(includeExpiry bool) ([]string, error) {
	all, err := p.listKeysLocked()
	if err != nil {
		return nil, err
	}
	ttlPresent := make(map[string]bool)
	var logical []string
	for _, key := range all {
		if sub, ok := strings.CutPrefix(key, storage.TTLKeyPrefix); ok {
			ttlPresent[sub] = true
			continue
		}
		logical = append(logical, key)
	}

	var keys []string
	for _, key := range logical {
		if p.expiredLocked(key) {
			continue
		}
		keys = append(keys, key)
		if includeExpiry && ttlPresent[key] {
			keys = append(keys, storage.TTLKey(key))
		}
	}
	return keys, nil
}

func (p *FileProvider) Keys(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveKeysLocked(false)
}

func (p *FileProvider) HasItem(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _, found, err := p.readEntry(key)
	if err != nil {
		p.deps.Logger.Warn("entry read failed", "key", key, "error", err)
		return false, nil
	}
	if !found {
		return false, nil
	}
	return !p.expiredLocked(key), nil
}

func (p *FileProvider) Info(ctx context.Context) (*storage.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys, err := p.liveKeysLocked(true)
	if err != nil {
		return nil, err
	}
	var used int64
	count := 0
	for _, key := range keys {
		data, _, found, err := p.readEntry(key)
		if err != nil || !found {
			continue
		}
		used += int64(len(data))
		if !strings.HasPrefix(key, storage.TTLKeyPrefix) {
			count++
		}
	}
	return accountingInfo(p.capacity, used, count), nil
}

func (p *FileProvider) MultiSet(ctx context.Context, items []storage.BatchItem) error {
	for _, item := range items {
		if err := p.SetItem(ctx, item.Key, item.Value, item.Options); err != nil {
			return fmt.Errorf("setting %q: %w", item.Key, err)
		}
	}
	return nil
}

func (p *FileProvider) MultiGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		data, sealed, found, err := p.readEntry(key)
		if err != nil || !found || p.expiredLocked(key) {
			continue
		}
		raw, _, err := decodeEntry(data, sealed, p.deps)
		if err != nil {
			p.deps.Logger.Warn("unreadable entry", "key", key, "error", err)
			continue
		}
		out[key] = raw
	}
	return out, nil
}

func (p *FileProvider) MultiRemove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := p.RemoveItem(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Migrate is a no-op: the on-disk encoding has a single version. Schema-level
// data migrations are the migration engine's concern.
func (p *FileProvider) Migrate(ctx context.Context, fromVersion, toVersion int) error {
	p.deps.Logger.Debug("file provider migrate is a no-op", "from", fromVersion, "to", toVersion)
	return nil
}

func (p *FileProvider) Backup(ctx context.Context) (*storage.Backup, error) {
	p.mu.Lock()
	keys, err := p.liveKeysLocked(true)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	data := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		entry, sealed, found, err := p.readEntry(key)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if !found {
			continue
		}
		raw, _, err := decodeEntry(entry, sealed, p.deps)
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("reading %q for backup: %w", key, err)
		}
		data[key] = raw
	}
	p.mu.Unlock()

	return assembleBackup(ctx, p, p.name, data, p.deps.Clock)
}

func (p *FileProvider) Restore(ctx context.Context, b *storage.Backup) error {
	if err := storage.VerifyBackup(b); err != nil {
		return err
	}

	if err := p.Clear(ctx); err != nil {
		return fmt.Errorf("clearing before restore: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, raw := range b.Data {
		data, err := storage.WrapValue(raw, false, p.deps.Clock.Now())
		if err != nil {
			return err
		}
		if err := p.writeEntry(key, data, false); err != nil {
			return fmt.Errorf("restoring %q: %w", key, err)
		}
	}
	return nil
}

func (p *FileProvider) Sync(ctx context.Context) error {
	return pushToMirror(ctx, p, p.deps)
}

func (p *FileProvider) Close() error { return nil }
