package funnel

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/features"
	"microloan-funnel/internal/models"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]models.Profile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[int64]models.Profile)}
}

func (f *fakeProfiles) GetOrCreate(_ context.Context, id models.UserIdentity) models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id.UserID]
	if !ok {
		p = models.Profile{UserID: id.UserID, Username: id.Username}
		f.profiles[id.UserID] = p
	}
	return p
}

func (f *fakeProfiles) Update(_ context.Context, userID int64, u models.ProfileUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	if u.Country != nil {
		c := *u.Country
		p.Country = &c
	}
	if u.Age != nil {
		a := *u.Age
		p.Age = &a
	}
	f.profiles[userID] = p
}

func (f *fakeProfiles) Clear(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	p.Country, p.Age = nil, nil
	f.profiles[userID] = p
	return nil
}

func (f *fakeProfiles) set(userID int64, country string, age int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = models.Profile{UserID: userID, Country: &country, Age: &age}
}

type click struct {
	UserID    int64
	SessionID string
	OfferID   string
	Country   string
}

type fakeTracker struct {
	sessions []models.Criteria
	amounts  []int
	criteria []models.Criteria
	shown    [][]string
	empty    []models.Criteria
	clicks   []click
}

func (f *fakeTracker) StartSession(_ context.Context, _ int64, c models.Criteria) string {
	f.sessions = append(f.sessions, c)
	return "session-" + string(rune('0'+len(f.sessions)))
}

func (f *fakeTracker) RecordAmount(_ context.Context, _ string, amount int) {
	f.amounts = append(f.amounts, amount)
}

func (f *fakeTracker) RecordCriteria(_ context.Context, _ string, c models.Criteria) {
	f.criteria = append(f.criteria, c)
}

func (f *fakeTracker) RecordShown(_ context.Context, _ int64, _ string, ids []string) {
	f.shown = append(f.shown, ids)
}

func (f *fakeTracker) RecordEmpty(_ context.Context, _ int64, c models.Criteria) {
	f.empty = append(f.empty, c)
}

func (f *fakeTracker) RecordClick(_ context.Context, userID int64, sessionID, offerID, country string) bool {
	f.clicks = append(f.clicks, click{userID, sessionID, offerID, country})
	return true
}

func testOffer(id string, countries []string, cr, epc float64, boost int, zero bool, maxAmount int) models.Offer {
	links := make(map[string]string)
	for _, c := range countries {
		links[c] = "https://partner.example/" + id + "/" + c + "?uid={user_id}"
	}
	return models.Offer{
		ID:        id,
		Name:      id,
		Geography: models.Geography{Countries: countries, Links: links},
		Limits: models.Limits{
			MinAmount: 1000, MaxAmount: maxAmount,
			MinAge: 18, MaxAge: 70,
		},
		LoanTerms:   models.LoanTerms{MinDays: 7, MaxDays: 30},
		ZeroPercent: zero,
		Metrics:     models.Metrics{CR: cr, EPC: epc},
		Priority:    models.Priority{ManualBoost: boost},
		Status:      models.Status{IsActive: true},
	}
}

// testCatalog ranks b (123), a (110), c (2) for russia without the 0% filter.
func testCatalog() []models.Offer {
	a := testOffer("offer_a", []string{"russia", "kazakhstan"}, 10, 100, 5, true, 50000)
	b := testOffer("offer_b", []string{"russia"}, 20, 50, 3, false, 30000)
	c := testOffer("offer_c", []string{"russia"}, 1, 0, 1, false, 50000)
	delete(c.Geography.Links, "russia")
	return []models.Offer{a, b, c}
}

type harness struct {
	t        *testing.T
	ctrl     *Controller
	profiles *fakeProfiles
	tracker  *fakeTracker
	flags    *features.Manager
	user     models.UserIdentity
	conv     Conversation
}

func newHarness(t *testing.T, offers []models.Offer) *harness {
	h := &harness{
		t:        t,
		profiles: newFakeProfiles(),
		tracker:  &fakeTracker{},
		flags:    features.NewDefaultManager(nil),
		user:     models.UserIdentity{UserID: 42, Username: "borrower"},
	}
	h.ctrl = NewController(catalog.NewStaticRepository(offers), h.profiles, h.tracker, h.flags, zap.NewNop())
	h.conv = NewConversation(h.user.UserID)
	return h
}

// send applies one input and checks the single-view invariant.
func (h *harness) send(in Input) Output {
	h.t.Helper()
	prev := h.conv
	next, out := h.ctrl.Handle(context.Background(), prev, h.user, ParseInput(prev, in))

	if out.Artifact == ArtifactNotice {
		require.Empty(h.t, out.ViewID)
		require.Empty(h.t, out.Retract)
		require.Equal(h.t, prev.ViewID, next.ViewID)
	} else {
		require.NotEmpty(h.t, out.ViewID)
		require.Equal(h.t, prev.ViewID, out.Retract)
		require.Equal(h.t, out.ViewID, next.ViewID)
	}
	require.Equal(h.t, next.State, out.State)

	h.conv = next
	return out
}

func choice(data string) Input { return Input{Type: InputChoice, Data: data} }
func text(data string) Input   { return Input{Type: InputText, Data: data} }

func (h *harness) collect(country, age, amount string, zero bool) Output {
	h.t.Helper()
	h.send(choice("start"))
	h.send(choice("country_" + country))
	h.send(choice("age_" + age))
	h.send(choice("amount_" + amount))
	h.send(choice("term_14"))
	h.send(choice("payment_card"))
	if zero {
		return h.send(choice("zero_true"))
	}
	return h.send(choice("zero_false"))
}

func TestFullFunnel(t *testing.T) {
	h := newHarness(t, testCatalog())

	out := h.send(choice("start"))
	assert.Equal(t, ArtifactPrompt, out.Artifact)
	assert.Equal(t, "country", out.Field)
	assert.Equal(t, StateChoosingCountry, out.State)

	out = h.send(choice("country_russia"))
	assert.Equal(t, "age", out.Field)

	out = h.send(choice("age_30"))
	assert.Equal(t, "amount", out.Field)
	require.Len(t, h.tracker.sessions, 1)
	assert.Equal(t, models.Criteria{Country: "russia", Age: 30}, h.tracker.sessions[0])
	assert.Equal(t, "session-1", h.conv.SessionID)

	out = h.send(text("15 000"))
	assert.Equal(t, "term", out.Field)
	assert.Equal(t, []int{15000}, h.tracker.amounts)

	h.send(choice("term_14"))
	h.send(choice("payment_card"))
	out = h.send(choice("zero_false"))

	require.Equal(t, ArtifactRanked, out.Artifact)
	require.NotNil(t, out.View)
	assert.Equal(t, "offer_b", out.View.Offer.ID)
	assert.Equal(t, 0, out.View.Index)
	assert.Equal(t, 3, out.View.Total)
	assert.InDelta(t, 123.0, out.View.Score, 1e-9)
	assert.Equal(t, StateViewingOffers, h.conv.State)

	want := models.Criteria{Country: "russia", Age: 30, Amount: 15000, Term: 14, PaymentMethod: "card"}
	if diff := cmp.Diff([]models.Criteria{want}, h.tracker.criteria); diff != "" {
		t.Errorf("recorded criteria mismatch (-want +got):\n%s", diff)
	}

	profile := h.profiles.GetOrCreate(context.Background(), h.user)
	require.True(t, profile.HasPreferences())
	assert.Equal(t, "russia", *profile.Country)
	assert.Equal(t, 30, *profile.Age)
}

func TestPaginationAndRedirect(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.collect("russia", "30", "15000", false)

	out := h.send(choice("prev_offer"))
	assert.Equal(t, ArtifactNotice, out.Artifact)
	assert.Equal(t, errFirstOffer.Error(), out.Error)
	assert.Equal(t, 0, h.conv.Index)

	out = h.send(choice("next_offer"))
	assert.Equal(t, "offer_a", out.View.Offer.ID)
	out = h.send(choice("next_offer"))
	assert.Equal(t, "offer_c", out.View.Offer.ID)
	assert.Equal(t, 2, out.View.Index)

	out = h.send(choice("next_offer"))
	assert.Equal(t, ArtifactNotice, out.Artifact)
	assert.Equal(t, 2, h.conv.Index)

	// offer_c has no link for russia.
	out = h.send(choice("get_loan_offer_c"))
	assert.Equal(t, ArtifactNotice, out.Artifact)
	assert.Empty(t, h.tracker.clicks)
	assert.Equal(t, StateViewingOffers, h.conv.State)

	h.send(choice("prev_offer"))
	out = h.send(choice("get_loan_offer_a"))

	require.Equal(t, ArtifactRedirect, out.Artifact)
	assert.Equal(t, &models.Redirect{
		OfferID: "offer_a",
		Link:    "https://partner.example/offer_a/russia?uid=42",
	}, out.Redirect)
	assert.Equal(t, StateIdle, h.conv.State)
	assert.Nil(t, h.conv.Result)
	assert.Equal(t, []click{{42, "session-1", "offer_a", "russia"}}, h.tracker.clicks)

	// Every rendered ranked view was recorded as shown.
	assert.Equal(t, [][]string{{"offer_b"}, {"offer_a"}, {"offer_c"}, {"offer_a"}}, h.tracker.shown)
}

func TestPaginationIsFrozenAcrossCatalogReload(t *testing.T) {
	offers := testCatalog()
	h := newHarness(t, offers)
	h.collect("russia", "30", "15000", false)

	// Swap the catalog for one without offer_a; the cached result still pages.
	h.ctrl.catalog = catalog.NewStaticRepository(offers[1:])
	out := h.send(choice("next_offer"))
	assert.Equal(t, "offer_a", out.View.Offer.ID)
	assert.Equal(t, 3, out.View.Total)
}

func TestStaleSelect(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.collect("russia", "30", "15000", true)

	out := h.send(choice("get_loan_offer_b"))
	assert.Equal(t, ArtifactNotice, out.Artifact)
	assert.Equal(t, ErrStaleOffer.Error(), out.Error)
	assert.Empty(t, h.tracker.clicks)
	assert.Equal(t, StateViewingOffers, h.conv.State)
}

func TestZeroPercentOnlyRanking(t *testing.T) {
	h := newHarness(t, testCatalog())
	out := h.collect("russia", "30", "15000", true)

	require.Equal(t, ArtifactRanked, out.Artifact)
	assert.Equal(t, "offer_a", out.View.Offer.ID)
	assert.Equal(t, 1, out.View.Total)
	assert.InDelta(t, 135.0, out.View.Score, 1e-9)
}

func TestEmptyResult(t *testing.T) {
	h := newHarness(t, testCatalog())
	out := h.collect("kazakhstan", "30", "100000", false)

	assert.Equal(t, ArtifactEmpty, out.Artifact)
	assert.Equal(t, StateIdle, h.conv.State)
	assert.Nil(t, h.conv.Result)
	require.Len(t, h.tracker.empty, 1)
	assert.Equal(t, 100000, h.tracker.empty[0].Amount)

	out = h.send(choice("change_params"))
	assert.Equal(t, "amount", out.Field)
	assert.Equal(t, "kazakhstan", h.conv.Criteria.Country)
}

func TestEmptyCatalog(t *testing.T) {
	h := newHarness(t, nil)
	out := h.collect("russia", "30", "15000", false)
	assert.Equal(t, ArtifactEmpty, out.Artifact)
}

func TestMalformedInputReprompts(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.send(choice("start"))
	h.send(choice("country_russia"))

	before := h.conv
	out := h.send(text("thirty"))
	assert.Equal(t, ArtifactPrompt, out.Artifact)
	assert.Equal(t, "age", out.Field)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, StateChoosingAge, h.conv.State)
	assert.Equal(t, before.Criteria, h.conv.Criteria)

	out = h.send(text("12"))
	assert.Contains(t, out.Error, "between 18 and 99")

	h.send(text("30"))
	out = h.send(text("999999"))
	assert.Equal(t, "amount", out.Field)
	assert.Contains(t, out.Error, "between 1000 and 50000")
	assert.Empty(t, h.tracker.amounts)
}

func TestUnexpectedEventReprompts(t *testing.T) {
	h := newHarness(t, testCatalog())

	out := h.send(choice("next_offer"))
	assert.Equal(t, ArtifactPrompt, out.Artifact)
	assert.Equal(t, "menu", out.Field)
	assert.Equal(t, errUnexpected.Error(), out.Error)

	h.send(choice("start"))
	out = h.send(choice("age_30"))
	assert.Equal(t, "country", out.Field)
	assert.Equal(t, StateChoosingCountry, h.conv.State)
}

func TestFieldChoiceOutsideItsPromptReprompts(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.profiles.set(42, "russia", 30)

	h.send(choice("change_profile_settings"))
	h.send(choice("edit_age"))
	before := h.conv

	out := h.send(choice("amount_15000"))
	assert.Equal(t, ArtifactPrompt, out.Artifact)
	assert.Equal(t, "age", out.Field)
	assert.Equal(t, errUnexpected.Error(), out.Error)
	assert.Equal(t, StateChoosingAge, h.conv.State)
	assert.Equal(t, ModeSettings, h.conv.Mode)
	assert.Equal(t, before.Criteria, h.conv.Criteria)
}

func TestRepromptWhileViewingDoesNotRecordShown(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.collect("russia", "30", "15000", false)
	require.Equal(t, [][]string{{"offer_b"}}, h.tracker.shown)

	for _, in := range []Input{text("abc"), choice("bogus"), choice("amount_15000")} {
		out := h.send(in)
		require.Equal(t, ArtifactRanked, out.Artifact, in.Data)
		assert.Equal(t, "offer_b", out.View.Offer.ID, in.Data)
		assert.NotEmpty(t, out.Error, in.Data)
	}
	assert.Equal(t, [][]string{{"offer_b"}}, h.tracker.shown)

	h.send(choice("next_offer"))
	assert.Equal(t, [][]string{{"offer_b"}, {"offer_a"}}, h.tracker.shown)
}

func TestCancelDiscardsCriteria(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.send(choice("start"))
	h.send(choice("country_russia"))
	h.send(choice("age_30"))
	h.send(choice("amount_15000"))

	out := h.send(text("/cancel"))
	assert.Equal(t, "menu", out.Field)
	assert.Equal(t, StateIdle, h.conv.State)
	assert.Equal(t, models.Criteria{}, h.conv.Criteria)
	assert.Empty(t, h.conv.SessionID)
}

func TestQuickPath(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.profiles.set(42, "russia", 43)

	out := h.send(choice("start"))
	assert.Equal(t, "amount", out.Field)
	assert.Equal(t, StateChoosingAmount, h.conv.State)
	assert.Equal(t, models.Criteria{Country: "russia", Age: 43}, h.conv.Criteria)
	require.Len(t, h.tracker.sessions, 1)

	h.send(choice("amount_5000"))
	h.send(choice("term_7"))
	h.send(choice("payment_qiwi"))
	out = h.send(choice("zero_false"))
	assert.Equal(t, ArtifactRanked, out.Artifact)

	// Changing parameters starts a fresh session on the quick path.
	out = h.send(choice("change_params"))
	assert.Equal(t, "amount", out.Field)
	assert.Nil(t, h.conv.Result)
	assert.Len(t, h.tracker.sessions, 2)
}

func TestQuickPathDisabled(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.flags.Disable(features.FeatureQuickPath)
	h.profiles.set(42, "russia", 43)

	out := h.send(choice("start"))
	assert.Equal(t, "country", out.Field)
	assert.Empty(t, h.tracker.sessions)
}

func TestSettingsMode(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.profiles.set(42, "russia", 30)

	out := h.send(choice("change_profile_settings"))
	require.Equal(t, ArtifactSettings, out.Artifact)
	assert.Equal(t, "russia", out.Settings.Country)

	out = h.send(choice("edit_country"))
	assert.Equal(t, "country", out.Field)
	assert.Equal(t, ModeSettings, out.Mode)

	out = h.send(choice("country_kazakhstan"))
	require.Equal(t, ArtifactSettings, out.Artifact)
	assert.Equal(t, "kazakhstan", out.Settings.Country)
	assert.Equal(t, 30, out.Settings.Age)
	assert.Equal(t, StateIdle, h.conv.State)
	assert.Equal(t, ModeFunnel, h.conv.Mode)

	h.send(choice("edit_age"))
	out = h.send(text("60"))
	assert.Equal(t, 60, out.Settings.Age)

	// Settings edits never open sessions.
	assert.Empty(t, h.tracker.sessions)

	out = h.send(choice("clear_profile"))
	require.Equal(t, ArtifactSettings, out.Artifact)
	assert.Empty(t, out.Settings.Country)
	assert.Zero(t, out.Settings.Age)
}

func TestPopularPreset(t *testing.T) {
	h := newHarness(t, testCatalog())

	out := h.send(choice("popular_zero_percent"))
	require.Equal(t, ArtifactRanked, out.Artifact)
	assert.Equal(t, "offer_a", out.View.Offer.ID)
	require.Len(t, h.tracker.sessions, 1)
	assert.Equal(t, models.Criteria{
		Country:         "russia",
		Age:             30,
		Amount:          15000,
		Term:            14,
		PaymentMethod:   "card",
		ZeroPercentOnly: true,
	}, h.tracker.sessions[0])

	out = h.send(choice("popular_kazakhstan"))
	assert.Equal(t, ArtifactEmpty, out.Artifact)

	h.flags.Disable(features.FeaturePopularOffers)
	out = h.send(choice("popular_cash"))
	assert.Equal(t, errPopularDisabled.Error(), out.Error)
}

func TestStartFromAnyState(t *testing.T) {
	h := newHarness(t, testCatalog())
	h.collect("russia", "30", "15000", false)

	// The funnel stored country and age, so a restart takes the quick path.
	out := h.send(text("/start"))
	assert.Equal(t, "amount", out.Field)
	assert.Nil(t, h.conv.Result)
	assert.Equal(t, models.Criteria{Country: "russia", Age: 30}, h.conv.Criteria)

	h.flags.Disable(features.FeatureQuickPath)
	out = h.send(choice("start"))
	assert.Equal(t, "country", out.Field)
	assert.Equal(t, models.Criteria{}, h.conv.Criteria)
}
