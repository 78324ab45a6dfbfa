package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gamevault/internal/storage"
	"gamevault/internal/testutil"
)

func newProgressRepo(t *testing.T) (*GameProgressRepository, *testutil.StubClock) {
	t.Helper()
	p, clock := testutil.NewMemoryProvider(t)
	return NewGameProgressRepository(p, 0, clock, nil), clock
}

func TestGameProgressRepository_UpdateScore(t *testing.T) {
	ctx := context.Background()

	t.Run("first play creates the record", func(t *testing.T) {
		r, clock := newProgressRepo(t)

		got, err := r.UpdateScore(ctx, "tetris", 50)
		if err != nil {
			t.Fatalf("update score: %v", err)
		}
		if got.HighScore != 50 || got.TotalPlays != 1 || got.TotalScore != 50 {
			t.Errorf("got %+v", got)
		}
		if got.AverageScore != 50 {
			t.Errorf("average = %v, want 50", got.AverageScore)
		}
		if !got.LastPlayed.Equal(clock.Now().UTC()) {
			t.Errorf("last played = %v", got.LastPlayed)
		}
	})

	t.Run("aggregates accumulate across plays", func(t *testing.T) {
		r, _ := newProgressRepo(t)

		r.UpdateScore(ctx, "tetris", 50)
		got, err := r.UpdateScore(ctx, "tetris", 30)
		if err != nil {
			t.Fatalf("update score: %v", err)
		}
		if got.HighScore != 50 {
			t.Errorf("high score = %d, want 50", got.HighScore)
		}
		if got.TotalPlays != 2 || got.TotalScore != 80 {
			t.Errorf("plays=%d total=%d", got.TotalPlays, got.TotalScore)
		}
		if got.AverageScore != 40 {
			t.Errorf("average = %v, want 40", got.AverageScore)
		}
	})

	t.Run("higher score raises the high score", func(t *testing.T) {
		r, _ := newProgressRepo(t)
		r.UpdateScore(ctx, "tetris", 10)
		got, _ := r.UpdateScore(ctx, "tetris", 99)
		if got.HighScore != 99 {
			t.Errorf("high score = %d, want 99", got.HighScore)
		}
	})

	t.Run("negative score is a validation error", func(t *testing.T) {
		r, _ := newProgressRepo(t)
		_, err := r.UpdateScore(ctx, "tetris", -1)
		var ve *storage.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		// The rejected play must not leave a record behind.
		got, _ := r.FindByID(ctx, "tetris")
		if got != nil {
			t.Errorf("record created for rejected score: %+v", got)
		}
	})

	t.Run("games are tracked independently", func(t *testing.T) {
		r, _ := newProgressRepo(t)
		r.UpdateScore(ctx, "tetris", 10)
		r.UpdateScore(ctx, "snake", 20)

		tetris, _ := r.FindByID(ctx, "tetris")
		snake, _ := r.FindByID(ctx, "snake")
		if tetris.HighScore != 10 || snake.HighScore != 20 {
			t.Errorf("tetris=%+v snake=%+v", tetris, snake)
		}
	})
}

func TestGameProgressRepository_Unlocks(t *testing.T) {
	ctx := context.Background()
	r, _ := newProgressRepo(t)
	r.UpdateScore(ctx, "tetris", 5)

	got, err := r.UnlockLevel(ctx, "tetris", "level-2")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if len(got.UnlockedLevels) != 1 || got.UnlockedLevels[0] != "level-2" {
		t.Errorf("levels = %v", got.UnlockedLevels)
	}

	// Unlocking the same level again is a no-op.
	got, _ = r.UnlockLevel(ctx, "tetris", "level-2")
	if len(got.UnlockedLevels) != 1 {
		t.Errorf("duplicate unlock: %v", got.UnlockedLevels)
	}

	got, err = r.RecordAchievement(ctx, "tetris", "first-clear")
	if err != nil {
		t.Fatalf("achievement: %v", err)
	}
	if len(got.Achievements) != 1 {
		t.Errorf("achievements = %v", got.Achievements)
	}
	got, _ = r.RecordAchievement(ctx, "tetris", "first-clear")
	if len(got.Achievements) != 1 {
		t.Errorf("duplicate achievement: %v", got.Achievements)
	}
}

func TestGameProgressRepository_CustomData(t *testing.T) {
	ctx := context.Background()
	r, _ := newProgressRepo(t)
	r.UpdateScore(ctx, "tetris", 5)

	payload := json.RawMessage(`{"seed":42,"mode":"marathon"}`)
	got, err := r.SetCustomData(ctx, "tetris", payload)
	if err != nil {
		t.Fatalf("set custom data: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(got.CustomData, &decoded); err != nil {
		t.Fatalf("custom data not preserved: %v", err)
	}
	if decoded["mode"] != "marathon" {
		t.Errorf("custom data = %v", decoded)
	}
}
