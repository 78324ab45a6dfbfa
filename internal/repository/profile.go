package repository

import (
	"context"
	"fmt"
	"time"

	"gamevault/internal/model"
	"gamevault/internal/storage"
)

// ProfileKeyPrefix namespaces user profile records.
const ProfileKeyPrefix = "profile"

// UserProfileRepository stores player profiles. Profiles carry identity, so
// they are written encrypted.
type UserProfileRepository struct {
	*Repository[model.UserProfile]
	clock storage.Clock
	ids   storage.IDGenerator
}

// NewUserProfileRepository creates a profile repository bound to provider.
func NewUserProfileRepository(provider storage.Provider, cacheTTL time.Duration, clock storage.Clock, ids storage.IDGenerator, logger storage.Logger) *UserProfileRepository {
	if clock == nil {
		clock = storage.RealClock{}
	}
	if ids == nil {
		ids = storage.UUIDGenerator{}
	}
	return &UserProfileRepository{
		Repository: New(provider, Settings[model.UserProfile]{
			Prefix:   ProfileKeyPrefix,
			Entity:   "user profile",
			Validate: validateProfile,
			Encrypt:  true,
			CacheTTL: cacheTTL,
			Clock:    clock,
			Logger:   logger,
		}),
		clock: clock,
		ids:   ids,
	}
}

func validateProfile(p *model.UserProfile) error {
	if p.ID == "" {
		return fmt.Errorf("missing id")
	}
	if p.Username == "" {
		return fmt.Errorf("missing username")
	}
	return nil
}

// Create makes a new profile with a generated ID and default preferences.
func (r *UserProfileRepository) Create(ctx context.Context, username string) (*model.UserProfile, error) {
	now := r.clock.Now().UTC()
	profile := &model.UserProfile{
		ID:         r.ids.New(),
		Username:   username,
		CreatedAt:  now,
		LastActive: now,
		Prefs:      model.DefaultPreferences(),
	}
	if err := r.Save(ctx, profile.ID, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Touch records activity on the profile.
func (r *UserProfileRepository) Touch(ctx context.Context, id string) error {
	_, err := r.Update(ctx, id, func(p *model.UserProfile) error {
		p.LastActive = r.clock.Now().UTC()
		return nil
	})
	return err
}

// UpdatePreferences applies mutate to the profile's preferences.
func (r *UserProfileRepository) UpdatePreferences(ctx context.Context, id string, mutate func(*model.ProfilePreferences)) (*model.UserProfile, error) {
	return r.Update(ctx, id, func(p *model.UserProfile) error {
		mutate(&p.Prefs)
		return nil
	})
}
