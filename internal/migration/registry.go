package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gamevault/internal/repository"
	"gamevault/internal/storage"
)

// RegisterPlatformMigrations registers the launcher's schema history on the
// engine. Each step scans the relevant key prefix, checks whether a record
// already has the new shape, and rewrites only those that don't — idempotent
// and safe to re-run after a partial failure.
func RegisterPlatformMigrations(e *Engine) error {
	migrations := []Migration{
		{
			Version:     1,
			Description: "backfill preferences onto user profiles",
			Up:          backfillProfilePreferences,
			Down:        stripProfilePreferences,
		},
		{
			Version:     2,
			Description: "backfill score aggregates onto game progress",
			Up:          backfillProgressAggregates,
			Down:        stripProgressAggregates,
		},
		{
			Version:     3,
			Description: "stamp settings records with updatedAt",
			Up:          stampSettingsUpdatedAt(e.clock),
			// Not reversible: the pre-migration records carried no timestamp
			// to restore.
		},
	}
	for _, m := range migrations {
		if err := e.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// transformRecords loads every record under prefix as a generic document,
// applies transform, and rewrites only the records transform reports changed.
func transformRecords(ctx context.Context, p storage.Provider, prefix string, opts storage.Options, transform func(record map[string]json.RawMessage) (bool, error)) error {
	keys, err := p.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix+":") {
			continue
		}

		var record map[string]json.RawMessage
		found, err := p.GetItem(ctx, key, &record)
		if err != nil {
			return fmt.Errorf("loading %q: %w", key, err)
		}
		if !found {
			continue
		}

		changed, err := transform(record)
		if err != nil {
			return fmt.Errorf("transforming %q: %w", key, err)
		}
		if !changed {
			continue
		}
		if err := p.SetItem(ctx, key, record, opts); err != nil {
			return fmt.Errorf("rewriting %q: %w", key, err)
		}
	}
	return nil
}

// profileOpts matches the profile repository's encryption policy so a
// migrated record lands back in the secure store.
var profileOpts = storage.Options{Encrypt: true}

func backfillProfilePreferences(ctx context.Context, p storage.Provider) error {
	defaults, err := json.Marshal(map[string]any{
		"theme":         "system",
		"language":      "en",
		"soundEnabled":  true,
		"musicEnabled":  true,
		"notifications": true,
	})
	if err != nil {
		return err
	}

	return transformRecords(ctx, p, repository.ProfileKeyPrefix, profileOpts, func(record map[string]json.RawMessage) (bool, error) {
		if _, ok := record["preferences"]; ok {
			return false, nil
		}
		record["preferences"] = defaults
		return true, nil
	})
}

func stripProfilePreferences(ctx context.Context, p storage.Provider) error {
	return transformRecords(ctx, p, repository.ProfileKeyPrefix, profileOpts, func(record map[string]json.RawMessage) (bool, error) {
		if _, ok := record["preferences"]; !ok {
			return false, nil
		}
		delete(record, "preferences")
		return true, nil
	})
}

func backfillProgressAggregates(ctx context.Context, p storage.Provider) error {
	return transformRecords(ctx, p, repository.ProgressKeyPrefix, storage.Options{}, func(record map[string]json.RawMessage) (bool, error) {
		_, hasTotal := record["totalScore"]
		_, hasAverage := record["averageScore"]
		if hasTotal && hasAverage {
			return false, nil
		}

		var highScore, totalPlays, totalScore int
		if raw, ok := record["highScore"]; ok {
			json.Unmarshal(raw, &highScore)
		}
		if raw, ok := record["totalPlays"]; ok {
			json.Unmarshal(raw, &totalPlays)
		}
		if raw, ok := record["totalScore"]; ok {
			json.Unmarshal(raw, &totalScore)
		}

		// Legacy records tracked only the high score; it is the best
		// available estimate of the running total.
		if !hasTotal {
			totalScore = highScore
		}
		average := 0.0
		if totalPlays > 0 {
			average = float64(totalScore) / float64(totalPlays)
		}

		totalRaw, err := json.Marshal(totalScore)
		if err != nil {
			return false, err
		}
		averageRaw, err := json.Marshal(average)
		if err != nil {
			return false, err
		}
		record["totalScore"] = totalRaw
		record["averageScore"] = averageRaw
		return true, nil
	})
}

func stripProgressAggregates(ctx context.Context, p storage.Provider) error {
	return transformRecords(ctx, p, repository.ProgressKeyPrefix, storage.Options{}, func(record map[string]json.RawMessage) (bool, error) {
		_, hasTotal := record["totalScore"]
		_, hasAverage := record["averageScore"]
		if !hasTotal && !hasAverage {
			return false, nil
		}
		delete(record, "totalScore")
		delete(record, "averageScore")
		return true, nil
	})
}

// stampSettingsUpdatedAt stamps every unstamped settings record with the
// engine clock's current time, so the step is deterministic under a stub
// clock.
func stampSettingsUpdatedAt(clock storage.Clock) func(ctx context.Context, p storage.Provider) error {
	return func(ctx context.Context, p storage.Provider) error {
		stamp, err := json.Marshal(clock.Now().UTC())
		if err != nil {
			return err
		}
		return transformRecords(ctx, p, repository.SettingsKeyPrefix, storage.Options{}, func(record map[string]json.RawMessage) (bool, error) {
			if _, ok := record["updatedAt"]; ok {
				return false, nil
			}
			record["updatedAt"] = stamp
			return true, nil
		})
	}
}
