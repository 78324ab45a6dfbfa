package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultCapacityBytes is the storage accounting ceiling when the provider
// config doesn't set one. Mobile storage budgets are small; 50 MB matches the
// launcher's quota.
const DefaultCapacityBytes = 50 * 1024 * 1024

// DefaultNamespace prefixes every physical key so launcher data never collides
// with unrelated persisted data sharing the same backend.
const DefaultNamespace = "gamelauncher:"

// Config is the main configuration for the launcher's persistence layer.
type Config struct {
	Namespace  string           `toml:"namespace"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Provider   ProviderConfig   `toml:"provider"`
	Encryption EncryptionConfig `toml:"encryption"`
	Cache      CacheConfig      `toml:"cache"`
	Migration  MigrationConfig  `toml:"migration"`
	Sync       SyncConfig       `toml:"sync"`
}

// MigrationConfig controls the data migration engine.
type MigrationConfig struct {
	// Auto runs pending data migrations during manager initialization.
	Auto bool `toml:"auto"`
}

// ProviderConfig selects and configures the storage backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type ProviderConfig struct {
	Type string `toml:"type"` // "memory", "file", or "sqlite"
	Name string `toml:"name"`

	// CapacityBytes is the accounting ceiling reported by Info. Zero means
	// DefaultCapacityBytes.
	CapacityBytes int64 `toml:"capacity_bytes,omitempty"`

	// File-specific fields (only used when Type == "file")
	Root string `toml:"root,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`
}

// EncryptionConfig configures the value sealer used for encrypt-marked writes.
type EncryptionConfig struct {
	Type        string `toml:"type"`         // "age" (default) or "test"
	KeystoreDir string `toml:"keystore_dir"` // where the device key lives
	KeyName     string `toml:"key_name"`     // keystore item holding the key
}

// CacheConfig configures repository-level caching. This TTL is independent of
// any storage TTL on the persisted values.
type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds"` // defaults to 300
}

// SyncConfig configures the optional cloud mirror.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type SyncConfig struct {
	Type string `toml:"type"` // "none" (default) or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// NewConfig creates a Config with the provided base directory and defaults
// for everything else: file provider, age encryption, five-minute cache.
func NewConfig(baseDir string) *Config {
	return &Config{
		Namespace: DefaultNamespace,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Provider: ProviderConfig{
			Type: "file",
			Name: "device",
			Root: filepath.Join(baseDir, "store"),
		},
		Encryption: EncryptionConfig{
			Type:        "age",
			KeystoreDir: filepath.Join(baseDir, "keystore"),
			KeyName:     "device-key",
		},
		Cache: CacheConfig{TTLSeconds: 300},
		Sync:  SyncConfig{Type: "none"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 300
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided
// Config. Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
