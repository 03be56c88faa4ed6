package funnel

import (
	"errors"

	"microloan-funnel/internal/models"
)

// ErrStaleOffer is reported when a selected offer is not in the cached
// ranked result.
var ErrStaleOffer = errors.New("offer is no longer in your results, please search again")

var (
	errLinkUnavailable = errors.New("this offer has no link for your country yet")
	errUnexpected      = errors.New("that option is not available right now")
	errPopularDisabled = errors.New("popular offers are not available")
	errLastOffer       = errors.New("this is the last offer")
	errFirstOffer      = errors.New("this is the first offer")
)

// ArtifactKind classifies an Output.
type ArtifactKind string

const (
	ArtifactPrompt   ArtifactKind = "prompt"
	ArtifactRanked   ArtifactKind = "ranked_view"
	ArtifactRedirect ArtifactKind = "terminal_redirect"
	ArtifactEmpty    ArtifactKind = "terminal_empty"
	ArtifactSettings ArtifactKind = "settings"
	ArtifactNotice   ArtifactKind = "notice"
)

// Choice is a discrete option a transport can render as a button.
type Choice struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// RankedView is one page of the ranked result.
type RankedView struct {
	Offer models.Offer `json:"offer"`
	Score float64      `json:"score"`
	Index int          `json:"index"`
	Total int          `json:"total"`
}

// Settings summarises a stored profile.
type Settings struct {
	Country         string `json:"country,omitempty"`
	Age             int    `json:"age,omitempty"`
	TotalSessions   int    `json:"total_sessions"`
	TotalLinkClicks int    `json:"total_link_clicks"`
}

// Output is what a transition asks the transport to render. A non-empty
// Retract names the previously rendered view, which must be removed before
// this one is shown. Notices are transient and carry no view id.
type Output struct {
	ViewID   string           `json:"view_id,omitempty"`
	Retract  string           `json:"retract,omitempty"`
	State    State            `json:"state"`
	Mode     Mode             `json:"mode"`
	Artifact ArtifactKind     `json:"artifact"`
	Field    string           `json:"field,omitempty"`
	Choices  []Choice         `json:"choices,omitempty"`
	View     *RankedView      `json:"view,omitempty"`
	Redirect *models.Redirect `json:"redirect,omitempty"`
	Settings *Settings        `json:"settings,omitempty"`
	Error    string           `json:"error,omitempty"`
}
