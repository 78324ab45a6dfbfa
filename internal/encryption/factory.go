package encryption

import (
	"fmt"

	"gamevault/internal/config"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
func NewSealerFromConfig(cfg config.EncryptionConfig) (Sealer, error) {
	switch cfg.Type {
	case "age", "":
		keyName := cfg.KeyName
		if keyName == "" {
			keyName = "device-key"
		}
		ks, err := NewFileKeystore(cfg.KeystoreDir)
		if err != nil {
			return nil, fmt.Errorf("creating keystore: %w", err)
		}
		return NewAgeSealer(ks, keyName), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
