// Package profile adapts the persisted user rows to the preferences the
// funnel needs. Storage failures never abort a conversation: reads fall back
// to a bare profile and writes are logged and dropped.
package profile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"microloan-funnel/internal/database"
	"microloan-funnel/internal/events"
	"microloan-funnel/internal/models"
)

// Store is the persistence contract behind the profile service.
type Store interface {
	GetProfile(ctx context.Context, userID int64) (models.Profile, error)
	GetOrCreateProfile(ctx context.Context, identity models.UserIdentity) (models.Profile, bool, error)
	UpdateProfilePreferences(ctx context.Context, userID int64, update models.ProfileUpdate) error
	ClearProfile(ctx context.Context, userID int64) error
}

// Service provides get/update/clear on user profiles.
type Service struct {
	store  Store
	events *events.Manager
	logger *zap.Logger
}

// NewService creates a new profile service. events may be nil.
func NewService(store Store, em *events.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, events: em, logger: logger.Named("profile")}
}

// GetOrCreate returns the profile of a user, creating it on first contact.
// On storage failure it returns an unsaved profile carrying only the identity.
func (s *Service) GetOrCreate(ctx context.Context, identity models.UserIdentity) models.Profile {
	profile, created, err := s.store.GetOrCreateProfile(ctx, identity)
	if err != nil {
		s.logger.Warn("profile lookup failed, continuing without stored preferences",
			zap.Int64("user_id", identity.UserID),
			zap.Error(err))
		now := time.Now().UTC()
		return models.Profile{
			UserID:       identity.UserID,
			Username:     identity.Username,
			FirstName:    identity.FirstName,
			CreatedAt:    now,
			LastActivity: now,
		}
	}
	if created {
		s.logger.Info("profile created", zap.Int64("user_id", identity.UserID))
	}
	return profile
}

// Get returns a stored profile. A missing row is reported as ok=false.
func (s *Service) Get(ctx context.Context, userID int64) (models.Profile, bool, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Profile{}, false, nil
	}
	if err != nil {
		return models.Profile{}, false, err
	}
	return profile, true, nil
}

// Update merges the set fields of update into the profile. Unset fields keep
// their stored values.
func (s *Service) Update(ctx context.Context, userID int64, update models.ProfileUpdate) {
	if update.Empty() {
		return
	}
	if err := s.store.UpdateProfilePreferences(ctx, userID, update); err != nil {
		s.logger.Warn("profile update dropped",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}
	if s.events != nil {
		s.events.PublishProfileUpdated(ctx, userID, update, false)
	}
}

// Clear unsets country and age. Lifetime counters are untouched.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	err := s.store.ClearProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("profile clear failed", zap.Int64("user_id", userID), zap.Error(err))
		return err
	}
	if s.events != nil {
		s.events.PublishProfileUpdated(ctx, userID, models.ProfileUpdate{}, true)
	}
	return nil
}
