package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"microloan-funnel/internal/database"
	"microloan-funnel/internal/events"
	"microloan-funnel/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setup(t *testing.T) (*Tracker, *database.DB, *events.Manager) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	em := events.NewManager(true, zap.NewNop())
	t.Cleanup(em.Shutdown)

	return New(db, em, zap.NewNop()), db, em
}

func createUser(t *testing.T, db *database.DB, userID int64) {
	t.Helper()
	_, _, err := db.GetOrCreateProfile(context.Background(), models.UserIdentity{UserID: userID})
	require.NoError(t, err)
}

func TestStartSession_IncrementsCounter(t *testing.T) {
	tr, db, _ := setup(t)
	ctx := context.Background()
	createUser(t, db, 1)

	id := tr.StartSession(ctx, 1, models.Criteria{Country: "russia", Age: 30})
	require.NotEmpty(t, id)

	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.UserID)
	assert.Equal(t, "russia", session.Criteria.Country)
	assert.False(t, session.Completed)

	p, err := db.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalSessions)
}

func TestStartSession_WithoutProfileIsUntracked(t *testing.T) {
	tr, _, _ := setup(t)
	ctx := context.Background()

	id := tr.StartSession(ctx, 77, models.Criteria{Country: "russia"})
	assert.Empty(t, id)

	// Untracked calls are no-ops.
	tr.RecordAmount(ctx, id, 5000)
	tr.RecordShown(ctx, 77, id, []string{"offer_1"})
	assert.False(t, tr.RecordClick(ctx, 77, id, "offer_1", "russia"))
}

func TestRecordClick_WriteOnce(t *testing.T) {
	tr, db, _ := setup(t)
	ctx := context.Background()
	createUser(t, db, 2)

	id := tr.StartSession(ctx, 2, models.Criteria{Country: "russia", Age: 30})
	require.NotEmpty(t, id)

	assert.True(t, tr.RecordClick(ctx, 2, id, "offer_1", "russia"))

	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.ClickedOfferID)
	assert.Equal(t, "offer_1", *session.ClickedOfferID)
	assert.True(t, session.Completed)

	assert.False(t, tr.RecordClick(ctx, 2, id, "offer_2", "russia"))

	session, err = db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "offer_1", *session.ClickedOfferID)

	p, err := db.GetProfile(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalLinkClicks)
}

func TestRecordClick_MissingSession(t *testing.T) {
	tr, db, _ := setup(t)
	createUser(t, db, 3)

	assert.False(t, tr.RecordClick(context.Background(), 3, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "offer_1", "russia"))

	p, err := db.GetProfile(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalLinkClicks)
}

func TestRecordShown_OverwritesAndPublishes(t *testing.T) {
	tr, db, em := setup(t)
	ctx := context.Background()
	createUser(t, db, 4)

	var mu sync.Mutex
	var batches [][]string
	em.Subscribe(events.EventOffersShown, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, e.Data.(events.OffersShownData).OfferIDs)
		return nil
	})

	id := tr.StartSession(ctx, 4, models.Criteria{Country: "russia"})
	tr.RecordAmount(ctx, id, 15000)
	tr.RecordShown(ctx, 4, id, []string{"offer_1"})
	tr.RecordShown(ctx, 4, id, []string{"offer_2"})
	em.Wait()

	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"offer_2"}, session.ShownOffers)
	assert.Equal(t, 15000, session.Criteria.Amount)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, batches, 2)
}

func TestRecordCriteria(t *testing.T) {
	tr, db, _ := setup(t)
	ctx := context.Background()
	createUser(t, db, 5)

	id := tr.StartSession(ctx, 5, models.Criteria{Country: "kazakhstan", Age: 22})
	full := models.Criteria{Country: "kazakhstan", Age: 22, Amount: 100000, Term: 30, PaymentMethod: "bank", ZeroPercentOnly: true}
	tr.RecordCriteria(ctx, id, full)

	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, full, session.Criteria)
}
