package provider

import (
	"fmt"

	"gamevault/internal/config"
	"gamevault/internal/storage"
)

// NewProviderFromConfig creates a storage provider based on the provider
// config type. The returned provider still needs Initialize called on it.
func NewProviderFromConfig(cfg *config.Config, deps Deps) (storage.Provider, error) {
	capacity := cfg.Provider.CapacityBytes
	if capacity <= 0 {
		capacity = config.DefaultCapacityBytes
	}
	name := cfg.Provider.Name
	if name == "" {
		name = cfg.Provider.Type
	}

	switch cfg.Provider.Type {
	case "memory":
		return NewMemoryProvider(name, cfg.Namespace, capacity, deps), nil
	case "file":
		if cfg.Provider.Root == "" {
			return nil, fmt.Errorf("file provider requires root to be set")
		}
		return NewFileProvider(name, cfg.Namespace, cfg.Provider.Root, capacity, deps), nil
	case "sqlite":
		return NewSQLiteProvider(name, cfg.Namespace, cfg.Provider.DataDir, capacity, deps), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider.Type)
	}
}
