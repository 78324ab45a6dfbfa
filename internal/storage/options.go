package storage

import "time"

// Priority hints how urgently a write should be flushed. Backends may ignore
// it; none of the current providers buffer writes.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Options configures a single write. It never changes the shape of the stored
// value, only how it is encoded and protected.
type Options struct {
	// Encrypt routes the value through the provider's sealer and, where the
	// backend distinguishes one, its secure store.
	Encrypt bool

	// Compress gzips the serialized value before storage.
	Compress bool

	// TTL, when positive, gives the entry an absolute expiry. Expired entries
	// are treated as absent and purged lazily on next access.
	TTL time.Duration

	// Priority is a write-urgency hint.
	Priority Priority

	// SyncToCloud marks the entry for inclusion in the next cloud sync on
	// providers with a remote counterpart.
	SyncToCloud bool
}
