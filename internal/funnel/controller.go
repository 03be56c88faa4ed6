package funnel

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/features"
	"microloan-funnel/internal/matching"
	"microloan-funnel/internal/models"
	"microloan-funnel/internal/tracing"
)

// Profiles is the profile store contract used by the controller.
type Profiles interface {
	GetOrCreate(ctx context.Context, identity models.UserIdentity) models.Profile
	Update(ctx context.Context, userID int64, update models.ProfileUpdate)
	Clear(ctx context.Context, userID int64) error
}

// Tracker is the session/attribution contract used by the controller.
type Tracker interface {
	StartSession(ctx context.Context, userID int64, c models.Criteria) string
	RecordAmount(ctx context.Context, sessionID string, amount int)
	RecordCriteria(ctx context.Context, sessionID string, c models.Criteria)
	RecordShown(ctx context.Context, userID int64, sessionID string, offerIDs []string)
	RecordEmpty(ctx context.Context, userID int64, c models.Criteria)
	RecordClick(ctx context.Context, userID int64, sessionID, offerID, country string) bool
}

// Flags reports feature flag state.
type Flags interface {
	IsEnabled(name string) bool
}

// turn is the input to a single transition.
type turn struct {
	conv  Conversation
	event Event
	user  models.UserIdentity
}

type transitionKey struct {
	state State
	kind  EventKind
}

type transitionFunc func(c *Controller, ctx context.Context, t turn) (Conversation, Output)

// transitionTable is the complete set of accepted (state, event) pairs.
// Pairs missing here re-issue the current prompt with an error.
func transitionTable() map[transitionKey]transitionFunc {
	return map[transitionKey]transitionFunc{
		{anyState, EventStart}:  (*Controller).start,
		{anyState, EventCancel}: (*Controller).cancel,

		{StateChoosingCountry, EventCountry}:         (*Controller).chooseCountry,
		{StateChoosingAge, EventAge}:                 (*Controller).chooseAge,
		{StateChoosingAmount, EventAmount}:           (*Controller).chooseAmount,
		{StateChoosingTerm, EventTerm}:               (*Controller).chooseTerm,
		{StateChoosingPayment, EventPayment}:         (*Controller).choosePayment,
		{StateChoosingZeroPercent, EventZeroPercent}: (*Controller).chooseZeroPercent,

		{StateViewingOffers, EventNext}:         (*Controller).next,
		{StateViewingOffers, EventPrev}:         (*Controller).prev,
		{StateViewingOffers, EventSelect}:       (*Controller).selectOffer,
		{StateViewingOffers, EventChangeParams}: (*Controller).start,
		{StateIdle, EventChangeParams}:          (*Controller).start,

		{StateIdle, EventSettings}:         (*Controller).showSettings,
		{StateIdle, EventEditCountry}:      (*Controller).editCountry,
		{StateIdle, EventEditAge}:          (*Controller).editAge,
		{StateIdle, EventClearProfile}:     (*Controller).clearProfile,
		{StateIdle, EventPopular}:          (*Controller).popular,
		{StateViewingOffers, EventPopular}: (*Controller).popular,
	}
}

// Controller is the conversation state machine.
type Controller struct {
	catalog   catalog.Repository
	profiles  Profiles
	tracker   Tracker
	flags     Flags
	logger    *zap.Logger
	table     map[transitionKey]transitionFunc
	newViewID func() string
}

// NewController wires a controller. flags may be nil, in which case every
// optional feature is off.
func NewController(repo catalog.Repository, profiles Profiles, tracker Tracker, flags Flags, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		catalog:   repo,
		profiles:  profiles,
		tracker:   tracker,
		flags:     flags,
		logger:    logger.Named("funnel"),
		table:     transitionTable(),
		newViewID: uuid.NewString,
	}
}

// Handle applies one event to a conversation and returns the next
// conversation together with what to render.
func (c *Controller) Handle(ctx context.Context, conv Conversation, user models.UserIdentity, ev Event) (Conversation, Output) {
	if conv.State == "" {
		conv = NewConversation(user.UserID)
	}
	if ev.Kind == EventInvalid {
		return c.reprompt(ctx, conv, ev.Err)
	}

	fn, ok := c.table[transitionKey{conv.State, ev.Kind}]
	if !ok {
		fn, ok = c.table[transitionKey{anyState, ev.Kind}]
	}
	if !ok {
		c.logger.Debug("event not accepted in state",
			zap.Int64("user_id", conv.UserID),
			zap.String("state", string(conv.State)),
			zap.String("event", string(ev.Kind)))
		return c.reprompt(ctx, conv, errUnexpected)
	}

	next, out := fn(c, ctx, turn{conv: conv, event: ev, user: user})
	if out.Artifact != ArtifactNotice {
		c.logger.Debug("transition",
			zap.Int64("user_id", conv.UserID),
			zap.String("from", string(conv.State)),
			zap.String("event", string(ev.Kind)),
			zap.String("to", string(next.State)))
	}
	return next, out
}

func (c *Controller) enabled(flag string) bool {
	return c.flags != nil && c.flags.IsEnabled(flag)
}

// start begins fresh criteria collection, taking the quick path when the
// profile already holds country and age.
func (c *Controller) start(ctx context.Context, t turn) (Conversation, Output) {
	profile := c.profiles.GetOrCreate(ctx, t.user)

	if c.enabled(features.FeatureQuickPath) && profile.HasPreferences() {
		next := t.conv.reset(StateChoosingAmount, ModeFunnel)
		next.Criteria = models.Criteria{Country: *profile.Country, Age: *profile.Age}
		next.SessionID = c.tracker.StartSession(ctx, t.conv.UserID, next.Criteria)
		return c.render(ctx, t.conv, next)
	}

	return c.render(ctx, t.conv, t.conv.reset(StateChoosingCountry, ModeFunnel))
}

func (c *Controller) cancel(ctx context.Context, t turn) (Conversation, Output) {
	return c.render(ctx, t.conv, t.conv.reset(StateIdle, ModeFunnel))
}

func (c *Controller) chooseCountry(ctx context.Context, t turn) (Conversation, Output) {
	country := t.event.Country
	c.profiles.Update(ctx, t.conv.UserID, models.ProfileUpdate{Country: &country})

	if t.conv.Mode == ModeSettings {
		return c.settingsSummary(ctx, t)
	}

	next := t.conv.withState(StateChoosingAge)
	next.Criteria.Country = country
	return c.render(ctx, t.conv, next)
}

func (c *Controller) chooseAge(ctx context.Context, t turn) (Conversation, Output) {
	age := t.event.Age
	c.profiles.Update(ctx, t.conv.UserID, models.ProfileUpdate{Age: &age})

	if t.conv.Mode == ModeSettings {
		return c.settingsSummary(ctx, t)
	}

	next := t.conv.withState(StateChoosingAmount)
	next.Criteria.Age = age
	next.SessionID = c.tracker.StartSession(ctx, t.conv.UserID, next.Criteria)
	return c.render(ctx, t.conv, next)
}

func (c *Controller) chooseAmount(ctx context.Context, t turn) (Conversation, Output) {
	next := t.conv.withState(StateChoosingTerm)
	next.Criteria.Amount = t.event.Amount
	c.tracker.RecordAmount(ctx, next.SessionID, next.Criteria.Amount)
	return c.render(ctx, t.conv, next)
}

func (c *Controller) chooseTerm(ctx context.Context, t turn) (Conversation, Output) {
	next := t.conv.withState(StateChoosingPayment)
	next.Criteria.Term = t.event.Term
	return c.render(ctx, t.conv, next)
}

func (c *Controller) choosePayment(ctx context.Context, t turn) (Conversation, Output) {
	next := t.conv.withState(StateChoosingZeroPercent)
	next.Criteria.PaymentMethod = t.event.PaymentMethod
	return c.render(ctx, t.conv, next)
}

func (c *Controller) chooseZeroPercent(ctx context.Context, t turn) (Conversation, Output) {
	next := t.conv
	next.Criteria.ZeroPercentOnly = t.event.ZeroPercent
	c.tracker.RecordCriteria(ctx, next.SessionID, next.Criteria)
	return c.showResults(ctx, t.conv, next)
}

// showResults ranks the catalog once for the conversation's criteria and
// caches the result for pagination.
func (c *Controller) showResults(ctx context.Context, prev, next Conversation) (Conversation, Output) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "funnel.rank")
	result := matching.Rank(next.Criteria, c.catalog.ListActive())
	span.SetAttributes(
		attribute.String("criteria.country", next.Criteria.Country),
		attribute.Int("criteria.amount", next.Criteria.Amount),
		attribute.Int("result.size", result.Len()),
	)
	span.End()

	if result.Len() == 0 {
		c.tracker.RecordEmpty(ctx, next.UserID, next.Criteria)
		empty := next.reset(StateIdle, ModeFunnel)
		return c.emit(prev, empty, Output{
			Artifact: ArtifactEmpty,
			Choices:  emptyChoices(c.enabled(features.FeaturePopularOffers)),
		})
	}

	next.State = StateViewingOffers
	next.Result = &result
	next.Index = 0
	c.recordShown(ctx, next)
	return c.render(ctx, prev, next)
}

func (c *Controller) next(ctx context.Context, t turn) (Conversation, Output) {
	return c.page(ctx, t.conv, t.conv.Index+1, errLastOffer)
}

func (c *Controller) prev(ctx context.Context, t turn) (Conversation, Output) {
	return c.page(ctx, t.conv, t.conv.Index-1, errFirstOffer)
}

// page moves to index clamped to the cached result. At a bound the view
// stays as is and a notice is returned.
func (c *Controller) page(ctx context.Context, conv Conversation, index int, atBound error) (Conversation, Output) {
	last := conv.Result.Len() - 1
	if index < 0 {
		index = 0
	}
	if index > last {
		index = last
	}
	if index == conv.Index {
		return c.notice(conv, atBound)
	}

	next := conv
	next.Index = index
	c.recordShown(ctx, next)
	return c.render(ctx, conv, next)
}

// recordShown records the offer a freshly rendered ranked view puts in front
// of the user. Re-issued views are not recorded again.
func (c *Controller) recordShown(ctx context.Context, conv Conversation) {
	if scored, ok := conv.current(); ok {
		c.tracker.RecordShown(ctx, conv.UserID, conv.SessionID, []string{scored.Offer.ID})
	}
}

func (c *Controller) selectOffer(ctx context.Context, t turn) (Conversation, Output) {
	offer, ok := t.conv.Result.Find(t.event.OfferID)
	if !ok {
		c.logger.Info("stale offer selected",
			zap.Int64("user_id", t.conv.UserID),
			zap.String("offer_id", t.event.OfferID))
		return c.notice(t.conv, ErrStaleOffer)
	}

	country := t.conv.Criteria.Country
	link := offer.Geography.Links[country]
	if link == "" {
		c.logger.Warn("offer has no link for country",
			zap.String("offer_id", offer.ID),
			zap.String("country", country))
		return c.notice(t.conv, errLinkUnavailable)
	}

	c.tracker.RecordClick(ctx, t.conv.UserID, t.conv.SessionID, offer.ID, country)

	redirect := models.Redirect{
		OfferID: offer.ID,
		Link:    ResolveLink(link, t.conv.UserID),
	}
	return c.emit(t.conv, t.conv.reset(StateIdle, ModeFunnel), Output{
		Artifact: ArtifactRedirect,
		Redirect: &redirect,
		Choices:  []Choice{{Label: "Find another loan", Data: "start"}},
	})
}

// ResolveLink substitutes the user's numeric id into a link template.
func ResolveLink(template string, userID int64) string {
	return strings.ReplaceAll(template, "{user_id}", strconv.FormatInt(userID, 10))
}

func (c *Controller) showSettings(ctx context.Context, t turn) (Conversation, Output) {
	return c.settingsSummary(ctx, t)
}

func (c *Controller) editCountry(ctx context.Context, t turn) (Conversation, Output) {
	return c.render(ctx, t.conv, t.conv.reset(StateChoosingCountry, ModeSettings))
}

func (c *Controller) editAge(ctx context.Context, t turn) (Conversation, Output) {
	return c.render(ctx, t.conv, t.conv.reset(StateChoosingAge, ModeSettings))
}

func (c *Controller) clearProfile(ctx context.Context, t turn) (Conversation, Output) {
	if err := c.profiles.Clear(ctx, t.conv.UserID); err != nil {
		return c.notice(t.conv, err)
	}
	return c.settingsSummary(ctx, t)
}

func (c *Controller) settingsSummary(ctx context.Context, t turn) (Conversation, Output) {
	profile := c.profiles.GetOrCreate(ctx, t.user)
	settings := Settings{
		TotalSessions:   profile.TotalSessions,
		TotalLinkClicks: profile.TotalLinkClicks,
	}
	if profile.Country != nil {
		settings.Country = *profile.Country
	}
	if profile.Age != nil {
		settings.Age = *profile.Age
	}

	return c.emit(t.conv, t.conv.reset(StateIdle, ModeFunnel), Output{
		Artifact: ArtifactSettings,
		Settings: &settings,
		Choices:  settingsChoices(),
	})
}

func (c *Controller) popular(ctx context.Context, t turn) (Conversation, Output) {
	if !c.enabled(features.FeaturePopularOffers) {
		return c.reprompt(ctx, t.conv, errPopularDisabled)
	}

	profile := c.profiles.GetOrCreate(ctx, t.user)
	criteria, err := PresetCriteria(t.event.Preset, profile)
	if err != nil {
		return c.reprompt(ctx, t.conv, err)
	}

	next := t.conv.reset(StateViewingOffers, ModeFunnel)
	next.Criteria = criteria
	next.SessionID = c.tracker.StartSession(ctx, t.conv.UserID, criteria)
	return c.showResults(ctx, t.conv, next)
}

// render produces the view for next's state and replaces prev's view.
func (c *Controller) render(ctx context.Context, prev, next Conversation) (Conversation, Output) {
	return c.emit(prev, next, c.present(next))
}

// reprompt re-issues the current view annotated with err. State does not
// change.
func (c *Controller) reprompt(ctx context.Context, conv Conversation, err error) (Conversation, Output) {
	out := c.present(conv)
	if err != nil {
		out.Error = err.Error()
	}
	return c.emit(conv, conv, out)
}

// present builds the view of a conversation's current state.
func (c *Controller) present(conv Conversation) Output {
	switch conv.State {
	case StateChoosingCountry:
		return Output{Artifact: ArtifactPrompt, Field: "country", Choices: countryChoices}
	case StateChoosingAge:
		return Output{Artifact: ArtifactPrompt, Field: "age", Choices: ageChoices}
	case StateChoosingAmount:
		return Output{Artifact: ArtifactPrompt, Field: "amount", Choices: amountChoices(conv.Criteria.Country)}
	case StateChoosingTerm:
		return Output{Artifact: ArtifactPrompt, Field: "term", Choices: termChoices}
	case StateChoosingPayment:
		return Output{Artifact: ArtifactPrompt, Field: "payment_method", Choices: paymentChoices}
	case StateChoosingZeroPercent:
		return Output{Artifact: ArtifactPrompt, Field: "zero_percent_only", Choices: zeroPercentChoices}
	case StateViewingOffers:
		scored, ok := conv.current()
		if !ok {
			break
		}
		return Output{
			Artifact: ArtifactRanked,
			View: &RankedView{
				Offer: scored.Offer,
				Score: scored.Score,
				Index: conv.Index,
				Total: conv.Result.Len(),
			},
			Choices: rankedChoices(conv, scored.Offer.ID),
		}
	}
	return Output{Artifact: ArtifactPrompt, Field: "menu", Choices: menuChoices(c.enabled(features.FeaturePopularOffers))}
}

// emit stamps out with a fresh view id that replaces prev's view.
func (c *Controller) emit(prev, next Conversation, out Output) (Conversation, Output) {
	out.Retract = prev.ViewID
	out.ViewID = c.newViewID()
	out.State = next.State
	out.Mode = next.Mode
	next.ViewID = out.ViewID
	return next, out
}

// notice reports a recoverable problem without touching the rendered view.
func (c *Controller) notice(conv Conversation, err error) (Conversation, Output) {
	return conv, Output{
		State:    conv.State,
		Mode:     conv.Mode,
		Artifact: ArtifactNotice,
		Error:    err.Error(),
	}
}
