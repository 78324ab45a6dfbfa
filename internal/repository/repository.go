// Package repository provides typed CRUD façades over a storage provider,
// one per entity kind, with in-memory caching, validation, and per-key
// locking for compound read-modify-write operations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gamevault/internal/storage"
)

// ErrNotFound is returned by Update when the target entity does not exist.
// FindByID reports a missing entity as (nil, nil): missing is a normal
// outcome on reads, not an error.
var ErrNotFound = errors.New("not found")

// DefaultCacheTTL bounds how long a cached entity is served without
// re-reading the provider. Independent of any storage TTL on the persisted
// value.
const DefaultCacheTTL = 5 * time.Minute

// Repository is a generic CRUD abstraction over a provider for one entity
// type. Each entity type owns a distinct key prefix; keys are built as
// "<prefix>:<id>". One repository instance per entity type per process —
// caches of two instances sharing a prefix would diverge.
type Repository[T any] struct {
	provider storage.Provider
	prefix   string
	entity   string // human-readable, for errors and logs
	validate func(*T) error
	encrypt  bool
	cacheTTL time.Duration
	clock    storage.Clock
	logger   storage.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry[T]
	locks keyedLocks
}

type cacheEntry[T any] struct {
	value    T
	cachedAt time.Time
}

// Settings configures a Repository. Prefix and Entity are required; Validate
// may be nil for entities with no invariants.
type Settings[T any] struct {
	Prefix   string
	Entity   string
	Validate func(*T) error
	Encrypt  bool
	CacheTTL time.Duration
	Clock    storage.Clock
	Logger   storage.Logger
}

// New creates a repository bound to the given provider.
func New[T any](provider storage.Provider, s Settings[T]) *Repository[T] {
	if s.CacheTTL <= 0 {
		s.CacheTTL = DefaultCacheTTL
	}
	if s.Clock == nil {
		s.Clock = storage.RealClock{}
	}
	if s.Logger == nil {
		s.Logger = storage.NewNopLogger()
	}
	return &Repository[T]{
		provider: provider,
		prefix:   s.Prefix,
		entity:   s.Entity,
		validate: s.Validate,
		encrypt:  s.Encrypt,
		cacheTTL: s.CacheTTL,
		clock:    s.Clock,
		logger:   s.Logger,
		cache:    make(map[string]cacheEntry[T]),
	}
}

// Prefix returns the repository's key prefix.
func (r *Repository[T]) Prefix() string { return r.prefix }

func (r *Repository[T]) key(id string) string { return r.prefix + ":" + id }

// FindByID returns the entity, or (nil, nil) when it is missing, expired, or
// fails validation — invalid stored records are tolerated as not-found rather
// than raised, so a partially-written or legacy record can't wedge a caller.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	return r.findByID(ctx, id)
}

func (r *Repository[T]) findByID(ctx context.Context, id string) (*T, error) {
	if v, ok := r.cached(id); ok {
		return v, nil
	}

	var value T
	found, err := r.provider.GetItem(ctx, r.key(id), &value)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", r.entity, id, err)
	}
	if !found {
		return nil, nil
	}
	if err := r.check(&value); err != nil {
		r.logger.Warn("stored entity failed validation, treating as missing",
			"entity", r.entity, "id", id, "error", err)
		return nil, nil
	}

	r.storeCache(id, value)
	out := value
	return &out, nil
}

// FindAll enumerates every entity under the repository's prefix, resolving
// each through FindByID so reads populate (and benefit from) the cache.
func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := r.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// Save validates and persists the entity. Validation failures surface as a
// *storage.ValidationError before any provider write.
func (r *Repository[T]) Save(ctx context.Context, id string, value *T) error {
	unlock := r.locks.acquire(id)
	defer unlock()
	return r.save(ctx, id, value)
}

// save persists without taking the per-key lock; callers hold it.
func (r *Repository[T]) save(ctx context.Context, id string, value *T) error {
	if err := r.check(value); err != nil {
		return err
	}
	opts := storage.Options{Encrypt: r.encrypt}
	if err := r.provider.SetItem(ctx, r.key(id), value, opts); err != nil {
		return fmt.Errorf("saving %s %s: %w", r.entity, id, err)
	}
	r.storeCache(id, *value)
	return nil
}

// Update is a read-modify-write: it loads the current entity, applies mutate,
// re-validates the result, and persists it — all under the per-key lock so
// concurrent updates to the same entity cannot lose writes. Returns
// ErrNotFound (wrapped) when the entity does not exist.
func (r *Repository[T]) Update(ctx context.Context, id string, mutate func(*T) error) (*T, error) {
	unlock := r.locks.acquire(id)
	defer unlock()

	current, err := r.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%s %s: %w", r.entity, id, ErrNotFound)
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	if err := r.save(ctx, id, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Delete removes the entity from both the provider and the cache. Deleting an
// absent entity is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	unlock := r.locks.acquire(id)
	defer unlock()

	if err := r.provider.RemoveItem(ctx, r.key(id)); err != nil {
		return fmt.Errorf("deleting %s %s: %w", r.entity, id, err)
	}
	r.dropCache(id)
	return nil
}

// Exists reports whether a live entry exists for id. It consults the
// provider, not the cache, so a TTL-expired entry reads as absent.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	return r.provider.HasItem(ctx, r.key(id))
}

// Count returns the number of entities under the repository's prefix.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Clear removes every entity under the repository's prefix and empties the
// cache.
func (r *Repository[T]) Clear(ctx context.Context) error {
	ids, err := r.ids(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	if err := r.provider.MultiRemove(ctx, keys); err != nil {
		return fmt.Errorf("clearing %s records: %w", r.entity, err)
	}

	r.mu.Lock()
	r.cache = make(map[string]cacheEntry[T])
	r.mu.Unlock()
	return nil
}

// InvalidateCache drops all cached entities, forcing the next reads through
// the provider.
func (r *Repository[T]) InvalidateCache() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry[T])
	r.mu.Unlock()
}

func (r *Repository[T]) ids(ctx context.Context) ([]string, error) {
	keys, err := r.provider.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s keys: %w", r.entity, err)
	}
	var ids []string
	for _, key := range keys {
		if id, ok := strings.CutPrefix(key, r.prefix+":"); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// check runs the validator, normalizing failures to *storage.ValidationError.
func (r *Repository[T]) check(value *T) error {
	if r.validate == nil {
		return nil
	}
	if err := r.validate(value); err != nil {
		var ve *storage.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &storage.ValidationError{Entity: r.entity, Reason: err.Error()}
	}
	return nil
}

func (r *Repository[T]) cached(id string) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[id]
	if !ok {
		return nil, false
	}
	if r.clock.Now().Sub(e.cachedAt) > r.cacheTTL {
		delete(r.cache, id)
		return nil, false
	}
	out := e.value
	return &out, true
}

func (r *Repository[T]) storeCache(id string, value T) {
	r.mu.Lock()
	r.cache[id] = cacheEntry[T]{value: value, cachedAt: r.clock.Now()}
	r.mu.Unlock()
}

func (r *Repository[T]) dropCache(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// keyedLocks hands out one mutex per entity ID so read-modify-write cycles on
// the same entity serialize. Mutexes are never reclaimed; the set is bounded
// by the number of distinct entities touched in-process.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) acquire(id string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
