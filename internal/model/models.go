// Package model defines the launcher's persisted entity types.
package model

import (
	"encoding/json"
	"time"
)

// UserProfile is the player's identity and preferences. Stored encrypted.
type UserProfile struct {
	ID         string             `json:"id"`
	Username   string             `json:"username"`
	CreatedAt  time.Time          `json:"createdAt"`
	LastActive time.Time          `json:"lastActive"`
	Prefs      ProfilePreferences `json:"preferences"`
}

// ProfilePreferences holds the launcher settings attached to a profile.
// Introduced after the first release; the version-1 data migration backfills
// it onto profiles that predate it.
type ProfilePreferences struct {
	Theme         string `json:"theme"`
	Language      string `json:"language"`
	SoundEnabled  bool   `json:"soundEnabled"`
	MusicEnabled  bool   `json:"musicEnabled"`
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences are applied to new profiles and backfilled onto legacy
// ones.
func DefaultPreferences() ProfilePreferences {
	return ProfilePreferences{
		Theme:         "system",
		Language:      "en",
		SoundEnabled:  true,
		MusicEnabled:  true,
		Notifications: true,
	}
}

// GameProgress is one game's per-player progress record, keyed by game ID.
type GameProgress struct {
	GameID       string    `json:"gameId"`
	HighScore    int       `json:"highScore"`
	TotalPlays   int       `json:"totalPlays"`
	TotalScore   int       `json:"totalScore"`
	AverageScore float64   `json:"averageScore"`
	LastPlayed   time.Time `json:"lastPlayed"`

	UnlockedLevels []string `json:"unlockedLevels,omitempty"`
	Achievements   []string `json:"achievements,omitempty"`

	// CustomData is a game-specific opaque payload. Each game defines its own
	// shape; the storage layer never inspects it.
	CustomData json.RawMessage `json:"customData,omitempty"`
}

// Setting is one generic launcher setting record.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
