package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// BackupFormatVersion identifies the backup payload shape. Bump only on
// incompatible changes; Restore rejects unknown versions.
const BackupFormatVersion = "1.0"

// Backup is a full snapshot of a provider's live key space. Data maps each
// logical key to its deserialized value (the envelope is stripped; restored
// entries get fresh envelopes).
type Backup struct {
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Data      map[string]json.RawMessage `json:"data"`
	Metadata  BackupMetadata             `json:"metadata"`
}

// BackupMetadata describes the snapshot's origin and carries its checksum.
type BackupMetadata struct {
	Provider      string `json:"provider"`
	SchemaVersion int    `json:"schemaVersion"`
	Checksum      string `json:"checksum"`
}

// BackupChecksum computes a deterministic, order-independent digest of a
// backup's data payload. Each entry is canonicalized (JSON with sorted object
// keys) and hashed, and the per-entry digests are folded together with XOR so
// iteration order doesn't matter. This is an integrity check, not
// authentication.
func BackupChecksum(data map[string]json.RawMessage) (string, error) {
	acc := make([]byte, sha256.Size)
	for key, raw := range data {
		canon, err := canonicalJSON(raw)
		if err != nil {
			return "", fmt.Errorf("canonicalizing value for %q: %w", key, err)
		}
		sum := sha256.Sum256([]byte(key + "=" + string(canon)))
		for i := range acc {
			acc[i] ^= sum[i]
		}
	}
	return hex.EncodeToString(acc), nil
}

// VerifyBackup validates a backup's checksum and format version. A checksum
// mismatch is an *IntegrityError; restore must not proceed past it.
func VerifyBackup(b *Backup) error {
	if b == nil {
		return fmt.Errorf("nil backup")
	}
	if b.Version != BackupFormatVersion {
		return fmt.Errorf("unsupported backup format version %q", b.Version)
	}
	actual, err := BackupChecksum(b.Data)
	if err != nil {
		return fmt.Errorf("computing backup checksum: %w", err)
	}
	if actual != b.Metadata.Checksum {
		return &IntegrityError{Expected: b.Metadata.Checksum, Actual: actual}
	}
	return nil
}

// canonicalJSON re-marshals raw JSON through an untyped value so that object
// keys come out sorted and whitespace is normalized.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
