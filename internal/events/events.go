package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"microloan-funnel/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventSessionStarted is emitted when a session row is created
	EventSessionStarted EventType = "session.started"
	// EventOffersShown is emitted for every rendered ranked view
	EventOffersShown EventType = "offers.shown"
	// EventOffersEmpty is emitted when matching produced no offers
	EventOffersEmpty EventType = "offers.empty"
	// EventLinkClicked is emitted once per session, on the attributed click
	EventLinkClicked EventType = "link.clicked"
	// EventProfileUpdated is emitted when preferences are stored or cleared
	EventProfileUpdated EventType = "profile.updated"
	// EventCatalogReloaded is emitted after a successful catalog reload
	EventCatalogReloaded EventType = "catalog.reloaded"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// SessionStartedData contains data for session started events.
type SessionStartedData struct {
	SessionID string
	UserID    int64
	Criteria  models.Criteria
}

// OffersShownData contains data for offers shown events.
type OffersShownData struct {
	SessionID string
	UserID    int64
	OfferIDs  []string
}

// OffersEmptyData contains data for empty result events.
type OffersEmptyData struct {
	UserID   int64
	Criteria models.Criteria
}

// LinkClickedData contains data for link clicked events.
type LinkClickedData struct {
	SessionID string
	UserID    int64
	OfferID   string
	Country   string
}

// ProfileUpdatedData contains data for profile updated events.
type ProfileUpdatedData struct {
	UserID  int64
	Update  models.ProfileUpdate
	Cleared bool
}

// CatalogReloadedData contains data for catalog reloaded events.
type CatalogReloadedData struct {
	Offers int
	Active int
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Enabled reports whether events are delivered.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish delivers an event to all subscribed handlers. Handlers run
// asynchronously; their errors are logged and never reach the publisher.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	if len(handlers) == 0 {
		m.mu.RUnlock()
		return
	}
	m.wg.Add(len(handlers))
	m.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers must not inherit request cancellation.
	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("event handler failed",
					zap.String("event", string(event.Type)),
					zap.Error(err))
			}
		}(handler)
	}
}

// PublishSessionStarted publishes a session started event.
func (m *Manager) PublishSessionStarted(ctx context.Context, sessionID string, userID int64, c models.Criteria) {
	m.Publish(ctx, EventSessionStarted, SessionStartedData{SessionID: sessionID, UserID: userID, Criteria: c})
}

// PublishOffersShown publishes an offers shown event.
func (m *Manager) PublishOffersShown(ctx context.Context, sessionID string, userID int64, offerIDs []string) {
	m.Publish(ctx, EventOffersShown, OffersShownData{SessionID: sessionID, UserID: userID, OfferIDs: offerIDs})
}

// PublishOffersEmpty publishes an empty result event.
func (m *Manager) PublishOffersEmpty(ctx context.Context, userID int64, c models.Criteria) {
	m.Publish(ctx, EventOffersEmpty, OffersEmptyData{UserID: userID, Criteria: c})
}

// PublishLinkClicked publishes a link clicked event.
func (m *Manager) PublishLinkClicked(ctx context.Context, sessionID string, userID int64, offerID, country string) {
	m.Publish(ctx, EventLinkClicked, LinkClickedData{
		SessionID: sessionID,
		UserID:    userID,
		OfferID:   offerID,
		Country:   country,
	})
}

// PublishProfileUpdated publishes a profile updated event.
func (m *Manager) PublishProfileUpdated(ctx context.Context, userID int64, update models.ProfileUpdate, cleared bool) {
	m.Publish(ctx, EventProfileUpdated, ProfileUpdatedData{UserID: userID, Update: update, Cleared: cleared})
}

// PublishCatalogReloaded publishes a catalog reloaded event.
func (m *Manager) PublishCatalogReloaded(ctx context.Context, offers, active int) {
	m.Publish(ctx, EventCatalogReloaded, CatalogReloadedData{Offers: offers, Active: active})
}

// Wait blocks until all in-flight handlers have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown disables delivery, drops subscribers and waits for in-flight
// handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
