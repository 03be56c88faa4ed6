// Package tracker correlates a conversation to its session row, the offers
// shown in it and the single click it ends with.
package tracker

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"microloan-funnel/internal/database"
	"microloan-funnel/internal/events"
	"microloan-funnel/internal/models"
)

// Store is the persistence contract behind the tracker.
type Store interface {
	InsertSession(ctx context.Context, s models.Session) error
	UpdateSessionAmount(ctx context.Context, sessionID string, amount int) error
	UpdateSessionCriteria(ctx context.Context, sessionID string, c models.Criteria) error
	SetShownOffers(ctx context.Context, sessionID string, offerIDs []string) error
	MarkSessionClicked(ctx context.Context, sessionID, offerID string) (bool, error)
	InsertLinkClick(ctx context.Context, userID int64, sessionID, offerID, country string) error
}

// Tracker records session lifecycle and attribution. Every failure is
// logged and swallowed; an empty session id means the conversation runs
// untracked.
type Tracker struct {
	store  Store
	events *events.Manager
	logger *zap.Logger
	newID  func() string
}

// New creates a tracker. em may be nil.
func New(store Store, em *events.Manager, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		events: em,
		logger: logger.Named("tracker"),
		newID:  func() string { return ulid.Make().String() },
	}
}

// StartSession opens a session for the user and returns its id, or "" when
// the user has no profile row or the insert failed.
func (t *Tracker) StartSession(ctx context.Context, userID int64, c models.Criteria) string {
	id := t.newID()
	err := t.store.InsertSession(ctx, models.Session{ID: id, UserID: userID, Criteria: c})
	if errors.Is(err, database.ErrNotFound) {
		t.logger.Warn("no profile for session, continuing untracked", zap.Int64("user_id", userID))
		return ""
	}
	if err != nil {
		t.logger.Error("failed to start session", zap.Int64("user_id", userID), zap.Error(err))
		return ""
	}

	t.logger.Debug("session started", zap.String("session_id", id), zap.Int64("user_id", userID))
	if t.events != nil {
		t.events.PublishSessionStarted(ctx, id, userID, c)
	}
	return id
}

// RecordAmount stores the requested amount on the session.
func (t *Tracker) RecordAmount(ctx context.Context, sessionID string, amount int) {
	if sessionID == "" {
		return
	}
	if err := t.store.UpdateSessionAmount(ctx, sessionID, amount); err != nil {
		t.logger.Warn("failed to record amount", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// RecordCriteria stores the completed criteria snapshot on the session.
func (t *Tracker) RecordCriteria(ctx context.Context, sessionID string, c models.Criteria) {
	if sessionID == "" {
		return
	}
	if err := t.store.UpdateSessionCriteria(ctx, sessionID, c); err != nil {
		t.logger.Warn("failed to record criteria", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// RecordShown replaces the session's last shown batch.
func (t *Tracker) RecordShown(ctx context.Context, userID int64, sessionID string, offerIDs []string) {
	if sessionID == "" {
		return
	}
	if err := t.store.SetShownOffers(ctx, sessionID, offerIDs); err != nil {
		t.logger.Warn("failed to record shown offers", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if t.events != nil {
		t.events.PublishOffersShown(ctx, sessionID, userID, offerIDs)
	}
}

// RecordEmpty reports a criteria set that matched nothing.
func (t *Tracker) RecordEmpty(ctx context.Context, userID int64, c models.Criteria) {
	if t.events != nil {
		t.events.PublishOffersEmpty(ctx, userID, c)
	}
}

// RecordClick attributes the session to offerID if it has no attribution
// yet. It reports whether this call wrote the attribution. Untracked
// conversations only append to the click log.
func (t *Tracker) RecordClick(ctx context.Context, userID int64, sessionID, offerID, country string) bool {
	if sessionID != "" {
		first, err := t.store.MarkSessionClicked(ctx, sessionID, offerID)
		if err != nil {
			t.logger.Warn("failed to attribute click",
				zap.String("session_id", sessionID),
				zap.String("offer_id", offerID),
				zap.Error(err))
			return false
		}
		if !first {
			t.logger.Debug("session already attributed",
				zap.String("session_id", sessionID),
				zap.String("offer_id", offerID))
			return false
		}
	}

	if err := t.store.InsertLinkClick(ctx, userID, sessionID, offerID, country); err != nil {
		t.logger.Warn("failed to log click", zap.Int64("user_id", userID), zap.Error(err))
	}
	if t.events != nil {
		t.events.PublishLinkClicked(ctx, sessionID, userID, offerID, country)
	}
	return sessionID != ""
}
