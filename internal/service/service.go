// Package service serves the read and admin operations around the funnel:
// profile and session lookups, catalog inspection and reload, and the
// analytics summary.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/database"
	"microloan-funnel/internal/events"
	"microloan-funnel/internal/models"
	"microloan-funnel/internal/validation"
)

const (
	DefaultStatsDays = 7
	MaxStatsDays     = 365
)

var (
	// ErrNotFound is returned when a profile, session or offer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReloadUnsupported is returned when the catalog has no backing file.
	ErrReloadUnsupported = errors.New("catalog reload is not supported")
)

// Store is the persistence the service reads from.
type Store interface {
	GetProfile(ctx context.Context, userID int64) (models.Profile, error)
	UserStats(ctx context.Context, userID int64) (models.UserStats, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	AnalyticsSummary(ctx context.Context, days int) (models.AnalyticsSummary, error)
}

// Service provides the query and admin operations of the funnel API.
type Service struct {
	store    Store
	catalog  catalog.Repository
	reloader catalog.Reloader
	events   *events.Manager
	logger   *zap.Logger
}

// NewService creates a new service instance. reloader may be nil when the
// catalog is not file backed.
func NewService(store Store, repo catalog.Repository, reloader catalog.Reloader, em *events.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		catalog:  repo,
		reloader: reloader,
		events:   em,
		logger:   logger,
	}
}

// GetProfile returns a stored profile together with its funnel stats.
func (s *Service) GetProfile(ctx context.Context, userID int64) (models.ProfileResponse, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.ProfileResponse{}, ErrNotFound
	}
	if err != nil {
		return models.ProfileResponse{}, fmt.Errorf("failed to get profile: %w", err)
	}

	stats, err := s.store.UserStats(ctx, userID)
	if err != nil {
		return models.ProfileResponse{}, fmt.Errorf("failed to get user stats: %w", err)
	}

	return models.ProfileResponse{Profile: p, Stats: stats}, nil
}

// GetSession returns one session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	sessionID = validation.SanitizeString(sessionID)
	if sessionID == "" {
		return models.Session{}, &validation.ValidationError{Field: "session_id", Message: "is required"}
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetOffer looks an offer up in the current catalog snapshot.
func (s *Service) GetOffer(offerID string) (models.Offer, error) {
	offer, err := s.catalog.GetOffer(validation.SanitizeString(offerID))
	if errors.Is(err, catalog.ErrNotFound) {
		return models.Offer{}, ErrNotFound
	}
	return offer, err
}

// ListOffers returns the catalog in file order, optionally only the active
// offers.
func (s *Service) ListOffers(activeOnly bool) []models.Offer {
	if activeOnly {
		return s.catalog.ListActive()
	}
	return s.catalog.Snapshot().Offers()
}

// ReloadCatalog re-reads the catalog file. A failed reload keeps the
// previous snapshot.
func (s *Service) ReloadCatalog(ctx context.Context) (models.ReloadResponse, error) {
	if s.reloader == nil {
		return models.ReloadResponse{}, ErrReloadUnsupported
	}

	snap, err := s.reloader.Reload()
	if err != nil {
		s.logger.Error("catalog reload failed", zap.Error(err))
		return models.ReloadResponse{}, fmt.Errorf("failed to reload catalog: %w", err)
	}

	resp := models.ReloadResponse{Offers: snap.Len(), Active: len(snap.Active())}
	if s.events != nil {
		s.events.PublishCatalogReloaded(ctx, resp.Offers, resp.Active)
	}
	return resp, nil
}

// Stats returns the analytics summary over the last days days.
func (s *Service) Stats(ctx context.Context, days int) (models.AnalyticsSummary, error) {
	if days == 0 {
		days = DefaultStatsDays
	}
	if days < 0 || days > MaxStatsDays {
		return models.AnalyticsSummary{}, &validation.ValidationError{
			Field:   "days",
			Message: fmt.Sprintf("must be between 1 and %d", MaxStatsDays),
		}
	}

	summary, err := s.store.AnalyticsSummary(ctx, days)
	if err != nil {
		return models.AnalyticsSummary{}, fmt.Errorf("failed to build analytics summary: %w", err)
	}
	return summary, nil
}
