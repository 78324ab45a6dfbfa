// Package provider contains the concrete storage backends (memory, file,
// sqlite), the config-keyed factory that selects between them, and the S3
// mirror used for cloud sync.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"gamevault/internal/encryption"
	"gamevault/internal/storage"
)

// Deps carries the cross-cutting collaborators a provider needs. Zero-value
// fields get safe defaults from fillDefaults.
type Deps struct {
	Sealer encryption.Sealer
	Clock  storage.Clock
	Logger storage.Logger
	Mirror Mirror
}

func (d Deps) fillDefaults() Deps {
	if d.Clock == nil {
		d.Clock = storage.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = storage.NewNopLogger()
	}
	return d
}

// Mirror is the remote counterpart behind the cloudSync capability: a store
// that holds full backup snapshots.
type Mirror interface {
	// Push uploads a snapshot, replacing the previous one.
	Push(ctx context.Context, b *storage.Backup) error

	// Pull downloads the most recent snapshot. Returns an error if none has
	// ever been pushed.
	Pull(ctx context.Context) (*storage.Backup, error)
}

// encodeEntry wraps value in an envelope per opts, sealing it when encryption
// was requested. sealed reports whether the returned bytes are ciphertext.
func encodeEntry(value any, opts storage.Options, deps Deps) (data []byte, sealed bool, err error) {
	data, err = storage.WrapValue(value, opts.Compress, deps.Clock.Now())
	if err != nil {
		return nil, false, err
	}
	if !opts.Encrypt {
		return data, false, nil
	}
	if deps.Sealer == nil {
		return nil, false, fmt.Errorf("provider has no sealer configured")
	}
	data, err = deps.Sealer.Seal(data)
	if err != nil {
		return nil, false, fmt.Errorf("sealing value: %w", err)
	}
	return data, true, nil
}

// decodeEntry reverses encodeEntry, returning the original serialized value.
func decodeEntry(data []byte, sealed bool, deps Deps) (json.RawMessage, *storage.Envelope, error) {
	if sealed {
		if deps.Sealer == nil {
			return nil, nil, fmt.Errorf("provider has no sealer configured")
		}
		opened, err := deps.Sealer.Open(data)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sealed value: %w", err)
		}
		data = opened
	}
	return storage.UnwrapValue(data)
}

// expiryValue is the payload of a ttl:<key> entry: the absolute expiry in
// epoch milliseconds.
type expiryValue struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// decodeInto unmarshals a raw serialized value into dest.
func decodeInto(raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decoding stored value: %w", err)
	}
	return nil
}

// accountingInfo builds an Info from a capacity ceiling and measured usage.
func accountingInfo(capacity, used int64, count int) *storage.Info {
	available := capacity - used
	if available < 0 {
		available = 0
	}
	return &storage.Info{
		TotalBytes:     capacity,
		UsedBytes:      used,
		AvailableBytes: available,
		ItemCount:      count,
	}
}

// assembleBackup wraps a snapshot's data payload in a checksummed Backup.
func assembleBackup(ctx context.Context, p storage.Provider, name string, data map[string]json.RawMessage, clock storage.Clock) (*storage.Backup, error) {
	checksum, err := storage.BackupChecksum(data)
	if err != nil {
		return nil, err
	}
	return &storage.Backup{
		Version:   storage.BackupFormatVersion,
		Timestamp: clock.Now().UTC(),
		Data:      data,
		Metadata: storage.BackupMetadata{
			Provider:      name,
			SchemaVersion: schemaVersionOf(ctx, p),
			Checksum:      checksum,
		},
	}, nil
}

// schemaVersionOf reads the data schema version the migration engine has
// recorded on this provider. Zero when the store is unversioned.
func schemaVersionOf(ctx context.Context, p storage.Provider) int {
	var meta struct {
		CurrentVersion int `json:"currentVersion"`
	}
	found, err := p.GetItem(ctx, storage.MigrationMetadataKey, &meta)
	if err != nil || !found {
		return 0
	}
	return meta.CurrentVersion
}

// pushToMirror implements Sync for providers constructed with a Mirror.
func pushToMirror(ctx context.Context, p storage.Provider, deps Deps) error {
	if deps.Mirror == nil {
		return fmt.Errorf("provider %s has no remote counterpart", p.Name())
	}
	b, err := p.Backup(ctx)
	if err != nil {
		return fmt.Errorf("snapshotting for sync: %w", err)
	}
	if err := deps.Mirror.Push(ctx, b); err != nil {
		return fmt.Errorf("pushing snapshot: %w", err)
	}
	deps.Logger.Info("snapshot pushed to mirror", "provider", p.Name(), "items", len(b.Data))
	return nil
}
