package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testBackup(t *testing.T, data map[string]json.RawMessage) *Backup {
	t.Helper()
	checksum, err := BackupChecksum(data)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	return &Backup{
		Version:   BackupFormatVersion,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data:      data,
		Metadata:  BackupMetadata{Provider: "test", Checksum: checksum},
	}
}

func TestBackupChecksum(t *testing.T) {
	t.Run("independent of key format", func(t *testing.T) {
		a, err := BackupChecksum(map[string]json.RawMessage{
			"x": json.RawMessage(`{"a":1,"b":2}`),
		})
		if err != nil {
			t.Fatal(err)
		}
		// Same value with reordered object keys and different whitespace.
		b, err := BackupChecksum(map[string]json.RawMessage{
			"x": json.RawMessage(`{ "b": 2, "a": 1 }`),
		})
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Errorf("checksum depends on JSON formatting: %s vs %s", a, b)
		}
	})

	t.Run("detects value change", func(t *testing.T) {
		a, _ := BackupChecksum(map[string]json.RawMessage{"x": json.RawMessage(`1`)})
		b, _ := BackupChecksum(map[string]json.RawMessage{"x": json.RawMessage(`2`)})
		if a == b {
			t.Error("different payloads produced equal checksums")
		}
	})

	t.Run("detects key rename", func(t *testing.T) {
		a, _ := BackupChecksum(map[string]json.RawMessage{"x": json.RawMessage(`1`)})
		b, _ := BackupChecksum(map[string]json.RawMessage{"y": json.RawMessage(`1`)})
		if a == b {
			t.Error("renamed key produced equal checksum")
		}
	})
}

func TestVerifyBackup(t *testing.T) {
	data := map[string]json.RawMessage{
		"profile:u1": json.RawMessage(`{"id":"u1","username":"alice"}`),
		"settings:v": json.RawMessage(`true`),
	}

	t.Run("valid backup passes", func(t *testing.T) {
		if err := VerifyBackup(testBackup(t, data)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("tampered payload fails with IntegrityError", func(t *testing.T) {
		b := testBackup(t, data)
		b.Data = map[string]json.RawMessage{
			"profile:u1": json.RawMessage(`{"id":"u1","username":"mallory"}`),
			"settings:v": json.RawMessage(`true`),
		}
		err := VerifyBackup(b)
		var ie *IntegrityError
		if !errors.As(err, &ie) {
			t.Fatalf("expected IntegrityError, got %v", err)
		}
		if ie.Expected == ie.Actual {
			t.Error("error carries equal checksums")
		}
	})

	t.Run("unknown format version fails", func(t *testing.T) {
		b := testBackup(t, data)
		b.Version = "99.0"
		if err := VerifyBackup(b); err == nil {
			t.Error("expected error for unknown version")
		}
	})

	t.Run("nil backup fails", func(t *testing.T) {
		if err := VerifyBackup(nil); err == nil {
			t.Error("expected error for nil backup")
		}
	})
}
