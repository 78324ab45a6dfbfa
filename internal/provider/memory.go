package provider

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"gamevault/internal/storage"
)

// MemoryProvider is an in-memory implementation of the storage contract. It
// backs the launcher's ephemeral mode and most tests. Safe for concurrent use.
type MemoryProvider struct {
	name      string
	namespace string
	capacity  int64
	deps      Deps

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	data   []byte
	sealed bool
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(name, namespace string, capacity int64, deps Deps) *MemoryProvider {
	return &MemoryProvider{
		name:      name,
		namespace: namespace,
		capacity:  capacity,
		deps:      deps.fillDefaults(),
		entries:   make(map[string]memEntry),
	}
}

var _ storage.Provider = (*MemoryProvider)(nil)
var _ storage.Syncer = (*MemoryProvider)(nil)

func (p *MemoryProvider) Name() string { return p.name }

func (p *MemoryProvider) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Encryption:      p.deps.Sealer != nil,
		Compression:     true,
		CloudSync:       p.deps.Mirror != nil,
		Backup:          true,
		TTL:             true,
		BatchOperations: true,
	}
}

// Initialize provisions the sealer key if a sealer is configured. Idempotent.
func (p *MemoryProvider) Initialize(ctx context.Context) error {
	if p.deps.Sealer != nil {
		if err := p.deps.Sealer.Initialize(); err != nil {
			return &storage.InitializationError{Component: "memory provider", Err: err}
		}
	}
	return nil
}

func (p *MemoryProvider) physical(key string) string { return p.namespace + key }

func (p *MemoryProvider) SetItem(ctx context.Context, key string, value any, opts storage.Options) error {
	data, sealed, err := encodeEntry(value, opts, p.deps)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[p.physical(key)] = memEntry{data: data, sealed: sealed}
	return p.writeExpiryLocked(key, opts)
}

// writeExpiryLocked maintains the parallel ttl:<key> entry. A write without a
// TTL clears any previous expiry for the key.
func (p *MemoryProvider) writeExpiryLocked(key string, opts storage.Options) error {
	ttlKey := p.physical(storage.TTLKey(key))
	if opts.TTL <= 0 {
		delete(p.entries, ttlKey)
		return nil
	}
	exp := expiryValue{ExpiresAt: p.deps.Clock.Now().Add(opts.TTL).UnixMilli()}
	data, err := storage.WrapValue(exp, false, p.deps.Clock.Now())
	if err != nil {
		return err
	}
	p.entries[ttlKey] = memEntry{data: data}
	return nil
}

// expiredLocked reports whether key has an elapsed TTL, purging both the
// entry and its expiry record when it has.
func (p *MemoryProvider) expiredLocked(key string) bool {
	ttlKey := p.physical(storage.TTLKey(key))
	e, ok := p.entries[ttlKey]
	if !ok {
		return false
	}
	raw, _, err := decodeEntry(e.data, e.sealed, p.deps)
	if err != nil {
		p.deps.Logger.Warn("unreadable expiry entry, dropping", "key", key, "error", err)
		delete(p.entries, ttlKey)
		return false
	}
	var exp expiryValue
	if err := decodeInto(raw, &exp); err != nil {
		delete(p.entries, ttlKey)
		return false
	}
	if p.deps.Clock.Now().UnixMilli() <= exp.ExpiresAt {
		return false
	}
	delete(p.entries, p.physical(key))
	delete(p.entries, ttlKey)
	return true
}

func (p *MemoryProvider) GetItem(ctx context.Context, key string, dest any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[p.physical(key)]
	if !ok || p.expiredLocked(key) {
		return false, nil
	}

	raw, _, err := decodeEntry(e.data, e.sealed, p.deps)
	if err != nil {
		// Best-effort read policy: a corrupt entry reads as absent.
		p.deps.Logger.Warn("unreadable entry", "key", key, "error", err)
		return false, nil
	}
	if err := decodeInto(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (p *MemoryProvider) RemoveItem(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, p.physical(key))
	delete(p.entries, p.physical(storage.TTLKey(key)))
	return nil
}

func (p *MemoryProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]memEntry)
	return nil
}

func (p *MemoryProvider) Keys(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveKeysLocked(false), nil
}

// liveKeysLocked returns all non-expired logical keys, purging expired
// entries as it goes. When includeExpiry is true, ttl bookkeeping entries are
// included (backup wants them; Keys does not).
func (p *MemoryProvider) liveKeysLocked(includeExpiry bool) []string {
	var logical []string
	for phys := range p.entries {
		key := strings.TrimPrefix(phys, p.namespace)
		if strings.HasPrefix(key, storage.TTLKeyPrefix) {
			continue
		}
		logical = append(logical, key)
	}

	keys := make([]string, 0, len(logical))
	for _, key := range logical {
		if p.expiredLocked(key) {
			continue
		}
		keys = append(keys, key)
		if includeExpiry {
			if _, ok := p.entries[p.physical(storage.TTLKey(key))]; ok {
				keys = append(keys, storage.TTLKey(key))
			}
		}
	}
	return keys
}

func (p *MemoryProvider) HasItem(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[p.physical(key)]; !ok {
		return false, nil
	}
	return !p.expiredLocked(key), nil
}

func (p *MemoryProvider) Info(ctx context.Context) (*storage.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var used int64
	count := 0
	for _, key := range p.liveKeysLocked(true) {
		e := p.entries[p.physical(key)]
		used += int64(len(e.data))
		if !strings.HasPrefix(key, storage.TTLKeyPrefix) {
			count++
		}
	}
	return accountingInfo(p.capacity, used, count), nil
}

func (p *MemoryProvider) MultiSet(ctx context.Context, items []storage.BatchItem) error {
	for _, item := range items {
		if err := p.SetItem(ctx, item.Key, item.Value, item.Options); err != nil {
			return err
		}
	}
	return nil
}

func (p *MemoryProvider) MultiGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		e, ok := p.entries[p.physical(key)]
		if !ok || p.expiredLocked(key) {
			continue
		}
		raw, _, err := decodeEntry(e.data, e.sealed, p.deps)
		if err != nil {
			p.deps.Logger.Warn("unreadable entry", "key", key, "error", err)
			continue
		}
		out[key] = raw
	}
	return out, nil
}

func (p *MemoryProvider) MultiRemove(ctx context.Context, keys []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range keys {
		delete(p.entries, p.physical(key))
		delete(p.entries, p.physical(storage.TTLKey(key)))
	}
	return nil
}

// Migrate is a no-op: the in-memory encoding has a single version.
func (p *MemoryProvider) Migrate(ctx context.Context, fromVersion, toVersion int) error {
	p.deps.Logger.Debug("memory provider migrate is a no-op", "from", fromVersion, "to", toVersion)
	return nil
}

func (p *MemoryProvider) Backup(ctx context.Context) (*storage.Backup, error) {
	p.mu.Lock()
	data := make(map[string]json.RawMessage)
	for _, key := range p.liveKeysLocked(true) {
		e := p.entries[p.physical(key)]
		raw, _, err := decodeEntry(e.data, e.sealed, p.deps)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		data[key] = raw
	}
	p.mu.Unlock()

	return assembleBackup(ctx, p, p.name, data, p.deps.Clock)
}

func (p *MemoryProvider) Restore(ctx context.Context, b *storage.Backup) error {
	if err := storage.VerifyBackup(b); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[string]memEntry)
	for key, raw := range b.Data {
		data, err := storage.WrapValue(raw, false, p.deps.Clock.Now())
		if err != nil {
			return err
		}
		p.entries[p.physical(key)] = memEntry{data: data}
	}
	return nil
}

func (p *MemoryProvider) Sync(ctx context.Context) error {
	return pushToMirror(ctx, p, p.deps)
}

func (p *MemoryProvider) Close() error { return nil }
