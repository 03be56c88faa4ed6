package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Offer represents a microloan product from the catalog.
type Offer struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Logo           string    `json:"logo,omitempty"`
	Geography      Geography `json:"geography"`
	Limits         Limits    `json:"limits"`
	LoanTerms      LoanTerms `json:"loan_terms"`
	ZeroPercent    bool      `json:"zero_percent"`
	PaymentMethods []string  `json:"payment_methods"`
	Metrics        Metrics   `json:"metrics"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
}

// Geography lists the supported countries and the per-country partner link
// template. Links may contain a {user_id} placeholder.
type Geography struct {
	Countries []string          `json:"countries"`
	Links     map[string]string `json:"-"`
}

const linkSuffix = "_link"

// UnmarshalJSON reads the catalog layout where links sit next to the country
// list as "<country>_link" keys.
func (g *Geography) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.Countries = nil
	g.Links = make(map[string]string)

	for key, value := range raw {
		switch {
		case key == "countries":
			if err := json.Unmarshal(value, &g.Countries); err != nil {
				return err
			}
		case strings.HasSuffix(key, linkSuffix):
			var link string
			if err := json.Unmarshal(value, &link); err != nil {
				return err
			}
			if link != "" {
				g.Links[strings.TrimSuffix(key, linkSuffix)] = link
			}
		}
	}

	return nil
}

// MarshalJSON writes the same layout UnmarshalJSON reads.
func (g Geography) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(g.Links)+1)
	countries := g.Countries
	if countries == nil {
		countries = []string{}
	}
	out["countries"] = countries
	for country, link := range g.Links {
		out[country+linkSuffix] = link
	}
	return json.Marshal(out)
}

// Supports reports whether the offer is available in the given country.
func (g Geography) Supports(country string) bool {
	for _, c := range g.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// LinkCountries returns the countries that have a link template, sorted.
func (g Geography) LinkCountries() []string {
	countries := make([]string, 0, len(g.Links))
	for c := range g.Links {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return countries
}

// Limits holds the amount and age eligibility bounds (inclusive).
type Limits struct {
	MinAmount int `json:"min_amount"`
	MaxAmount int `json:"max_amount"`
	MinAge    int `json:"min_age"`
	MaxAge    int `json:"max_age"`
}

// LoanTerms holds the supported loan duration in days (inclusive).
type LoanTerms struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}

// Metrics are the commercial performance figures reported by the CPA network.
type Metrics struct {
	CR  float64 `json:"cr"`  // conversion rate
	AR  float64 `json:"ar"`  // approval rate
	EPC float64 `json:"epc"` // earnings per click
	EPL float64 `json:"epl"` // earnings per lead
}

// Priority carries the operator-assigned score multiplier.
// A ManualBoost of 0 excludes the offer from every result.
type Priority struct {
	ManualBoost int `json:"manual_boost"`
}

// Status gates whether the offer is shown at all.
type Status struct {
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Criteria is the set of user constraints collected by the conversation.
type Criteria struct {
	Country         string `json:"country"`
	Age             int    `json:"age"`
	Amount          int    `json:"amount"`
	Term            int    `json:"term"`
	PaymentMethod   string `json:"payment_method"`
	ZeroPercentOnly bool   `json:"zero_percent_only"`
}

// ScoredOffer pairs an offer with its ranking score.
type ScoredOffer struct {
	Offer Offer   `json:"offer"`
	Score float64 `json:"score"`
}

// RankedResult is the ordered, bounded list produced for one Criteria.
// It is never modified after it has been built.
type RankedResult struct {
	Criteria Criteria      `json:"criteria"`
	Offers   []ScoredOffer `json:"offers"`
}

// Len returns the number of ranked offers.
func (r *RankedResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Offers)
}

// Find returns the ranked offer with the given id.
func (r *RankedResult) Find(offerID string) (Offer, bool) {
	if r == nil {
		return Offer{}, false
	}
	for _, so := range r.Offers {
		if so.Offer.ID == offerID {
			return so.Offer, true
		}
	}
	return Offer{}, false
}

// Session is one completed-criteria conversation instance.
type Session struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	Criteria       Criteria   `json:"criteria"`
	ShownOffers    []string   `json:"shown_offers"`
	ClickedOfferID *string    `json:"clicked_offer_id,omitempty"`
	Completed      bool       `json:"completed"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Profile holds the persisted preferences and lifetime counters of a user.
type Profile struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username,omitempty"`
	FirstName       string    `json:"first_name,omitempty"`
	Country         *string   `json:"country,omitempty"`
	Age             *int      `json:"age,omitempty"`
	TotalSessions   int       `json:"total_sessions"`
	TotalLinkClicks int       `json:"total_link_clicks"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// HasPreferences reports whether both country and age are set.
func (p Profile) HasPreferences() bool {
	return p.Country != nil && *p.Country != "" && p.Age != nil && *p.Age > 0
}

// ProfileUpdate is a partial profile change; nil fields are left untouched.
type ProfileUpdate struct {
	Country *string `json:"country,omitempty"`
	Age     *int    `json:"age,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Country == nil && u.Age == nil
}

// UserIdentity is the contact data attached to an inbound message.
type UserIdentity struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Redirect is the terminal artifact of a conversation: the offer the user
// chose and the personalised partner link.
type Redirect struct {
	OfferID string `json:"offer_id"`
	Link    string `json:"link"`
}

// UserStats summarises a single user's funnel activity.
type UserStats struct {
	TotalSessions   int     `json:"total_sessions"`
	TotalLinkClicks int     `json:"total_link_clicks"`
	ConversionRate  float64 `json:"conversion_rate"`
}

// OfferClicks is one row of the top offers report.
type OfferClicks struct {
	OfferID string `json:"offer_id"`
	Clicks  int    `json:"clicks"`
}

// CountryClicks is one row of the country distribution report.
type CountryClicks struct {
	Country string `json:"country"`
	Clicks  int    `json:"clicks"`
}

// AnalyticsSummary aggregates funnel activity over a time window.
type AnalyticsSummary struct {
	Days                  int             `json:"days"`
	TotalUsers            int             `json:"total_users"`
	TotalSessions         int             `json:"total_sessions"`
	TotalClicks           int             `json:"total_clicks"`
	SessionCompletionRate float64         `json:"session_completion_rate"`
	ClickThroughRate      float64         `json:"click_through_rate"`
	TopOffers             []OfferClicks   `json:"top_offers"`
	CountryDistribution   []CountryClicks `json:"country_distribution"`
}

// ProfileResponse is the response payload for the profile endpoint.
type ProfileResponse struct {
	Profile Profile   `json:"profile"`
	Stats   UserStats `json:"stats"`
}

// EventRequest is an inbound conversation event.
type EventRequest struct {
	Type      string `json:"type"` // "choice" or "text"
	Data      string `json:"data,omitempty"`
	Text      string `json:"text,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// ReloadResponse reports the catalog size after a reload.
type ReloadResponse struct {
	Offers int `json:"offers"`
	Active int `json:"active"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
