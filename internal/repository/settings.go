package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamevault/internal/model"
	"gamevault/internal/storage"
)

// SettingsKeyPrefix namespaces generic launcher setting records.
const SettingsKeyPrefix = "settings"

// SettingsRepository stores schema-less launcher settings as individual
// records keyed by setting name.
type SettingsRepository struct {
	*Repository[model.Setting]
	clock storage.Clock
}

// NewSettingsRepository creates a settings repository bound to provider.
func NewSettingsRepository(provider storage.Provider, cacheTTL time.Duration, clock storage.Clock, logger storage.Logger) *SettingsRepository {
	if clock == nil {
		clock = storage.RealClock{}
	}
	return &SettingsRepository{
		Repository: New(provider, Settings[model.Setting]{
			Prefix:   SettingsKeyPrefix,
			Entity:   "setting",
			Validate: validateSetting,
			CacheTTL: cacheTTL,
			Clock:    clock,
			Logger:   logger,
		}),
		clock: clock,
	}
}

func validateSetting(s *model.Setting) error {
	if s.Key == "" {
		return fmt.Errorf("missing key")
	}
	return nil
}

// GetSetting decodes the named setting into dest. Returns false when the
// setting has never been stored.
func (r *SettingsRepository) GetSetting(ctx context.Context, key string, dest any) (bool, error) {
	record, err := r.FindByID(ctx, key)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	if err := json.Unmarshal(record.Value, dest); err != nil {
		return false, fmt.Errorf("decoding setting %q: %w", key, err)
	}
	return true, nil
}

// SetSetting stores the named setting, replacing any previous value.
func (r *SettingsRepository) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %q: %w", key, err)
	}
	record := &model.Setting{
		Key:       key,
		Value:     raw,
		UpdatedAt: r.clock.Now().UTC(),
	}
	return r.Save(ctx, key, record)
}

// DeleteSetting removes the named setting. Deleting an absent setting is not
// an error.
func (r *SettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	return r.Delete(ctx, key)
}
