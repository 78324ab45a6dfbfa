package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gamevault/internal/config"
)

// testConfig builds a config that keeps everything inside the test's temp
// directories: memory provider, test sealer, no sync.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Namespace:  "test:",
		BaseDir:    t.TempDir(),
		LogDir:     t.TempDir(),
		Provider:   config.ProviderConfig{Type: "memory", Name: "ephemeral"},
		Encryption: config.EncryptionConfig{Type: "test"},
		Cache:      config.CacheConfig{TTLSeconds: 300},
		Sync:       config.SyncConfig{Type: "none"},
	}
}

func TestGetDefaults(t *testing.T) {
	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("GAMEVAULT_CONFIG_PATH", "/etc/gv.toml")
		t.Setenv("GAMEVAULT_HOME", "/srv/gv")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("get defaults: %v", err)
		}
		if d.ConfigPath != "/etc/gv.toml" || d.HomeDir != "/srv/gv" {
			t.Errorf("defaults = %+v", d)
		}
	})

	t.Run("xdg-style fallbacks", func(t *testing.T) {
		t.Setenv("GAMEVAULT_CONFIG_PATH", "")
		t.Setenv("GAMEVAULT_HOME", "")
		t.Setenv("HOME", "/home/player")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("get defaults: %v", err)
		}
		if d.ConfigPath != filepath.Join("/home/player", ".config", "gamevault.toml") {
			t.Errorf("config path = %q", d.ConfigPath)
		}
		if d.HomeDir != filepath.Join("/home/player", ".local", "share", "gamevault") {
			t.Errorf("home dir = %q", d.HomeDir)
		}
	})
}

func TestNewOperationID(t *testing.T) {
	id := newOperationID(time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))
	if id != "20240115T103045Z" {
		t.Errorf("operation id = %q", id)
	}
}

func TestGVHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &gvHandler{w: &buf, opID: "op-1"}
	logger := slog.New(h)

	logger.Info("provider switched", "from", "memory", "to", "file")

	line := buf.String()
	fields := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	if len(fields) != 6 {
		t.Fatalf("got %d fields: %q", len(fields), line)
	}
	if fields[1] != "INFO" || fields[2] != "op-1" || fields[3] != "provider switched" {
		t.Errorf("fields = %v", fields)
	}
	if fields[4] != "from=memory" || fields[5] != "to=file" {
		t.Errorf("attrs = %v", fields[4:])
	}
}

func TestAppBackupRestoreFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := NewApp(ctx, cfg, "Test")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if err := a.Manager().Settings().SetSetting(ctx, "volume", 7); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out.backup.json")
	if err := a.BackupToFile(ctx, path, "hunter2"); err != nil {
		t.Fatalf("backup to file: %v", err)
	}

	if err := a.Manager().Provider().Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.RestoreFromFile(ctx, path, "hunter2"); err != nil {
		t.Fatalf("restore from file: %v", err)
	}

	var volume int
	if found, _ := a.Manager().Settings().GetSetting(ctx, "volume", &volume); !found || volume != 7 {
		t.Errorf("setting after restore: %d found=%v", volume, found)
	}

	// Wrong passphrase must not restore.
	if err := a.RestoreFromFile(ctx, path, "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
}
