package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamevault/internal/model"
	"gamevault/internal/storage"
)

// ProgressKeyPrefix namespaces game progress records.
const ProgressKeyPrefix = "progress"

// GameProgressRepository stores per-game progress records keyed by game ID.
type GameProgressRepository struct {
	*Repository[model.GameProgress]
	clock storage.Clock
}

// NewGameProgressRepository creates a progress repository bound to provider.
func NewGameProgressRepository(provider storage.Provider, cacheTTL time.Duration, clock storage.Clock, logger storage.Logger) *GameProgressRepository {
	if clock == nil {
		clock = storage.RealClock{}
	}
	return &GameProgressRepository{
		Repository: New(provider, Settings[model.GameProgress]{
			Prefix:   ProgressKeyPrefix,
			Entity:   "game progress",
			Validate: validateProgress,
			CacheTTL: cacheTTL,
			Clock:    clock,
			Logger:   logger,
		}),
		clock: clock,
	}
}

func validateProgress(g *model.GameProgress) error {
	if g.GameID == "" {
		return fmt.Errorf("missing game id")
	}
	if g.HighScore < 0 || g.TotalScore < 0 {
		return fmt.Errorf("negative score")
	}
	if g.TotalPlays < 0 {
		return fmt.Errorf("negative play count")
	}
	return nil
}

// UpdateScore records a finished play of gameID: it bumps the play count,
// keeps the running total and high score, and recomputes the average. A game
// with no existing record gets an initial one. The whole read-compute-write
// runs under the per-game lock.
func (r *GameProgressRepository) UpdateScore(ctx context.Context, gameID string, score int) (*model.GameProgress, error) {
	if score < 0 {
		return nil, &storage.ValidationError{Entity: "game progress", Reason: "negative score"}
	}

	unlock := r.locks.acquire(gameID)
	defer unlock()

	progress, err := r.findByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = &model.GameProgress{GameID: gameID}
	}

	progress.TotalPlays++
	progress.TotalScore += score
	if score > progress.HighScore {
		progress.HighScore = score
	}
	progress.AverageScore = float64(progress.TotalScore) / float64(progress.TotalPlays)
	progress.LastPlayed = r.clock.Now().UTC()

	if err := r.save(ctx, gameID, progress); err != nil {
		return nil, err
	}
	return progress, nil
}

// UnlockLevel appends a level to the game's unlocked list if not already
// present.
func (r *GameProgressRepository) UnlockLevel(ctx context.Context, gameID, level string) (*model.GameProgress, error) {
	return r.Update(ctx, gameID, func(g *model.GameProgress) error {
		for _, l := range g.UnlockedLevels {
			if l == level {
				return nil
			}
		}
		g.UnlockedLevels = append(g.UnlockedLevels, level)
		return nil
	})
}

// RecordAchievement appends an achievement if not already earned.
func (r *GameProgressRepository) RecordAchievement(ctx context.Context, gameID, achievement string) (*model.GameProgress, error) {
	return r.Update(ctx, gameID, func(g *model.GameProgress) error {
		for _, a := range g.Achievements {
			if a == achievement {
				return nil
			}
		}
		g.Achievements = append(g.Achievements, achievement)
		return nil
	})
}

// SetCustomData replaces the game's opaque custom payload. The storage layer
// never inspects its shape.
func (r *GameProgressRepository) SetCustomData(ctx context.Context, gameID string, data json.RawMessage) (*model.GameProgress, error) {
	return r.Update(ctx, gameID, func(g *model.GameProgress) error {
		g.CustomData = data
		return nil
	})
}
