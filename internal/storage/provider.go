// Package storage defines the persistence contract shared by all backends:
// the Provider interface, the value envelope, backup payloads, and the error
// taxonomy. Concrete backends live in internal/provider.
package storage

import (
	"context"
	"encoding/json"
)

// Provider is the contract for a keyed, typed persistence backend.
// Values are serialized to JSON before storage and wrapped in an Envelope so
// the write timestamp and compression flag travel with the data. All
// operations take a context so callers can bound I/O.
//
// Read operations follow a best-effort policy: a transient backend failure on
// GetItem degrades to "not found" rather than propagating, because losing a
// cached preference is less harmful than failing a caller. Writes always
// propagate failures.
type Provider interface {
	// Initialize performs idempotent setup (directory creation, schema
	// bootstrap, encryption key provisioning). Returns an
	// *InitializationError on unrecoverable backend failure.
	Initialize(ctx context.Context) error

	// SetItem serializes value (optionally compressing and encrypting per
	// opts) and persists it under key. A TTL in opts is tracked as separate
	// expiry metadata for the same logical key.
	SetItem(ctx context.Context, key string, value any, opts Options) error

	// GetItem loads the value stored under key into dest. Returns false when
	// the key is absent or expired; expired entries are removed as a side
	// effect. dest must be a non-nil pointer.
	GetItem(ctx context.Context, key string, dest any) (bool, error)

	// RemoveItem deletes the entry for key along with its expiry metadata.
	// Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Clear removes every entry under this provider's namespace. Irreversible;
	// no confirmation happens at this layer.
	Clear(ctx context.Context) error

	// Keys returns all live (non-expired) logical keys.
	Keys(ctx context.Context) ([]string, error)

	// HasItem reports whether a live entry exists for key.
	HasItem(ctx context.Context, key string) (bool, error)

	// Info returns a capacity estimate and live item count.
	Info(ctx context.Context) (*Info, error)

	// MultiSet, MultiGet and MultiRemove are batch variants. They must be at
	// least as correct as N singular calls; better I/O amortization is
	// encouraged but not required.
	MultiSet(ctx context.Context, items []BatchItem) error
	MultiGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	MultiRemove(ctx context.Context, keys []string) error

	// Migrate is a provider-local hook for migrating the backend's own
	// encoding (e.g. its table schema). It is distinct from the data
	// migration engine's version bookkeeping; the engine invokes it ahead
	// of a run when the Migration capability is set.
	Migrate(ctx context.Context, fromVersion, toVersion int) error

	// Backup exports a full checksummed snapshot of all live entries.
	Backup(ctx context.Context) (*Backup, error)

	// Restore imports a snapshot. The checksum must validate before any
	// write; a mismatch fails with an *IntegrityError and leaves the store
	// untouched.
	Restore(ctx context.Context, backup *Backup) error

	// Capabilities reports what this backend supports so callers can branch
	// without type inspection.
	Capabilities() Capabilities

	// Name returns the provider's configured name (e.g. "file", "sqlite").
	Name() string

	// Close releases backend resources.
	Close() error
}

// Syncer is implemented by providers with a remote counterpart. Providers
// without one simply don't implement it; callers check the CloudSync
// capability before asserting.
type Syncer interface {
	// Sync pushes a full snapshot to the remote counterpart.
	Sync(ctx context.Context) error
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Encryption      bool
	Compression     bool
	CloudSync       bool
	Migration       bool
	Backup          bool
	TTL             bool
	BatchOperations bool
}

// Info is a provider's storage accounting snapshot.
type Info struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
	ItemCount      int
}

// BatchItem is one entry of a MultiSet call.
type BatchItem struct {
	Key     string
	Value   any
	Options Options
}

// Reserved logical keys. Providers store them like any other entry; the
// migration engine and manager own their contents.
const (
	// MigrationMetadataKey holds the migration engine's persisted state.
	MigrationMetadataKey = "migration_metadata"

	// SwitchPendingKey marks an in-progress provider switch on the target
	// provider. Cleared once the switch commits.
	SwitchPendingKey = "switch_pending"
)

// TTLKeyPrefix prefixes the parallel expiry entry tracked for a key written
// with a TTL.
const TTLKeyPrefix = "ttl:"

// TTLKey returns the logical key of the expiry entry for key.
func TTLKey(key string) string { return TTLKeyPrefix + key }
