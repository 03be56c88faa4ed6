// Package funnel drives a user's conversation from criteria collection
// through ranked offers to a single attributed redirect.
package funnel

import (
	"time"

	"microloan-funnel/internal/models"
)

// State is a conversation step.
type State string

const (
	StateIdle                State = "idle"
	StateChoosingCountry     State = "choosing_country"
	StateChoosingAge         State = "choosing_age"
	StateChoosingAmount      State = "choosing_amount"
	StateChoosingTerm        State = "choosing_term"
	StateChoosingPayment     State = "choosing_payment"
	StateChoosingZeroPercent State = "choosing_zero_percent"
	StateViewingOffers       State = "viewing_offers"

	// anyState keys transitions valid from every state.
	anyState State = "*"
)

// Mode tells the shared country/age prompts where to go on completion.
type Mode string

const (
	ModeFunnel   Mode = "funnel"
	ModeSettings Mode = "settings"
)

// EventKind classifies an inbound event.
type EventKind string

const (
	EventStart        EventKind = "start"
	EventCancel       EventKind = "cancel"
	EventCountry      EventKind = "country"
	EventAge          EventKind = "age"
	EventAmount       EventKind = "amount"
	EventTerm         EventKind = "term"
	EventPayment      EventKind = "payment"
	EventZeroPercent  EventKind = "zero_percent"
	EventNext         EventKind = "next"
	EventPrev         EventKind = "prev"
	EventSelect       EventKind = "select"
	EventChangeParams EventKind = "change_params"
	EventSettings     EventKind = "settings"
	EventEditCountry  EventKind = "edit_country"
	EventEditAge      EventKind = "edit_age"
	EventClearProfile EventKind = "clear_profile"
	EventPopular      EventKind = "popular"
	EventInvalid      EventKind = "invalid"
)

// Event is a parsed inbound input. Only the fields relevant to Kind are set.
type Event struct {
	Kind          EventKind
	Country       string
	Age           int
	Amount        int
	Term          int
	PaymentMethod string
	ZeroPercent   bool
	OfferID       string
	Preset        string
	Err           error
}

// Conversation is the transient per-user context. Transitions never modify
// a Conversation in place; they return the next value.
type Conversation struct {
	UserID    int64                `json:"user_id"`
	State     State                `json:"state"`
	Mode      Mode                 `json:"mode"`
	Criteria  models.Criteria      `json:"criteria"`
	SessionID string               `json:"session_id,omitempty"`
	Result    *models.RankedResult `json:"result,omitempty"`
	Index     int                  `json:"index"`
	ViewID    string               `json:"view_id,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewConversation returns an idle conversation for a user.
func NewConversation(userID int64) Conversation {
	return Conversation{UserID: userID, State: StateIdle, Mode: ModeFunnel}
}

// reset drops criteria, session and cached result, keeping the rendered view.
func (c Conversation) reset(state State, mode Mode) Conversation {
	return Conversation{
		UserID: c.UserID,
		State:  state,
		Mode:   mode,
		ViewID: c.ViewID,
	}
}

func (c Conversation) withState(s State) Conversation {
	c.State = s
	return c
}

func (c Conversation) current() (models.ScoredOffer, bool) {
	if c.Result == nil || c.Index < 0 || c.Index >= len(c.Result.Offers) {
		return models.ScoredOffer{}, false
	}
	return c.Result.Offers[c.Index], true
}
