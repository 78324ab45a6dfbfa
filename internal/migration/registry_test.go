package migration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gamevault/internal/storage"
	"gamevault/internal/testutil"
)

func TestPlatformMigrations(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Engine, storage.Provider) {
		t.Helper()
		p, clock := testutil.NewMemoryProvider(t)
		e := NewEngine(p, clock, nil)
		if err := RegisterPlatformMigrations(e); err != nil {
			t.Fatalf("register: %v", err)
		}
		return e, p
	}

	t.Run("backfills profile preferences", func(t *testing.T) {
		e, p := seed(t)
		// A legacy profile, written before preferences existed.
		p.SetItem(ctx, "profile:u1",
			map[string]any{"id": "u1", "username": "alice"},
			storage.Options{Encrypt: true})

		if _, err := e.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}

		var record map[string]json.RawMessage
		found, _ := p.GetItem(ctx, "profile:u1", &record)
		if !found {
			t.Fatal("profile lost in migration")
		}
		prefs, ok := record["preferences"]
		if !ok {
			t.Fatal("preferences not backfilled")
		}
		var decoded struct {
			Theme    string `json:"theme"`
			Language string `json:"language"`
		}
		if err := json.Unmarshal(prefs, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Theme != "system" || decoded.Language != "en" {
			t.Errorf("defaults = %+v", decoded)
		}
		// Existing fields survive.
		if string(record["username"]) != `"alice"` {
			t.Errorf("username = %s", record["username"])
		}
	})

	t.Run("preserves existing preferences", func(t *testing.T) {
		e, p := seed(t)
		p.SetItem(ctx, "profile:u1",
			map[string]any{"id": "u1", "username": "alice",
				"preferences": map[string]any{"theme": "dark"}},
			storage.Options{Encrypt: true})

		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		var record map[string]json.RawMessage
		p.GetItem(ctx, "profile:u1", &record)
		var prefs struct {
			Theme string `json:"theme"`
		}
		json.Unmarshal(record["preferences"], &prefs)
		if prefs.Theme != "dark" {
			t.Errorf("migration overwrote user preferences: %+v", prefs)
		}
	})

	t.Run("backfills progress aggregates from high score", func(t *testing.T) {
		e, p := seed(t)
		// A legacy progress record tracked only highScore and totalPlays.
		p.SetItem(ctx, "progress:tetris",
			map[string]any{"gameId": "tetris", "highScore": 120, "totalPlays": 4},
			storage.Options{})

		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		var record struct {
			TotalScore   int     `json:"totalScore"`
			AverageScore float64 `json:"averageScore"`
		}
		found, _ := p.GetItem(ctx, "progress:tetris", &record)
		if !found {
			t.Fatal("progress lost in migration")
		}
		if record.TotalScore != 120 {
			t.Errorf("total score = %d, want 120", record.TotalScore)
		}
		if record.AverageScore != 30 {
			t.Errorf("average = %v, want 30", record.AverageScore)
		}
	})

	t.Run("stamps settings with updatedAt", func(t *testing.T) {
		e, p := seed(t)
		p.SetItem(ctx, "settings:volume",
			map[string]any{"key": "volume", "value": 7},
			storage.Options{})

		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		var record map[string]json.RawMessage
		p.GetItem(ctx, "settings:volume", &record)
		raw, ok := record["updatedAt"]
		if !ok {
			t.Fatal("updatedAt not stamped")
		}

		// The stamp comes from the engine's clock, not the wall clock.
		var stamped time.Time
		if err := json.Unmarshal(raw, &stamped); err != nil {
			t.Fatalf("unmarshaling stamp: %v", err)
		}
		if want := testutil.FixedClock().Now().UTC(); !stamped.Equal(want) {
			t.Errorf("stamped %v, want %v", stamped, want)
		}
	})

	t.Run("full rollback stops at the irreversible step", func(t *testing.T) {
		e, _ := seed(t)
		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		// Version 3 defines no down transform, so rolling back to 0 fails
		// immediately and the store stays at version 3.
		_, err := e.Rollback(ctx, 0)
		if err == nil {
			t.Fatal("expected rollback to fail at the irreversible step")
		}
		v, _ := e.CurrentVersion(ctx)
		if v != 3 {
			t.Errorf("current version = %d, want 3", v)
		}
	})

	t.Run("rollback to 2 strips nothing it should not", func(t *testing.T) {
		e, p := seed(t)
		p.SetItem(ctx, "profile:u1",
			map[string]any{"id": "u1", "username": "alice"},
			storage.Options{Encrypt: true})
		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		// Rolling back 3 -> 2 is impossible (v3 has no down), but 3 is the
		// only blocker; verify the engine reports it rather than partially
		// stripping v1 or v2 data.
		if _, err := e.Rollback(ctx, 2); err == nil {
			t.Fatal("expected error")
		}
		var record map[string]json.RawMessage
		p.GetItem(ctx, "profile:u1", &record)
		if _, ok := record["preferences"]; !ok {
			t.Error("rollback stripped preferences despite failing")
		}
	})

	t.Run("re-running is idempotent", func(t *testing.T) {
		e, p := seed(t)
		p.SetItem(ctx, "progress:tetris",
			map[string]any{"gameId": "tetris", "highScore": 10, "totalPlays": 1},
			storage.Options{})
		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}

		var first map[string]json.RawMessage
		p.GetItem(ctx, "progress:tetris", &first)

		// Reset metadata and re-run; already-shaped records are untouched.
		if err := e.Reset(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Migrate(ctx); err != nil {
			t.Fatal(err)
		}
		var second map[string]json.RawMessage
		p.GetItem(ctx, "progress:tetris", &second)
		if string(second["totalScore"]) != string(first["totalScore"]) {
			t.Errorf("re-run changed totalScore: %s -> %s", first["totalScore"], second["totalScore"])
		}
	})
}
