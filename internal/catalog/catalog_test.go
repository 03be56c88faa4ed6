package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleCatalog = `{
  "microloans": {
    "offer_002": {
      "name": "Second",
      "geography": {
        "countries": ["russia", "kazakhstan"],
        "russia_link": "https://partner.example/ru?sub={user_id}",
        "kazakhstan_link": "https://partner.example/kz?sub={user_id}"
      },
      "limits": {"min_amount": 1000, "max_amount": 30000, "min_age": 18, "max_age": 70},
      "loan_terms": {"min_days": 7, "max_days": 30},
      "zero_percent": true,
      "payment_methods": ["card"],
      "metrics": {"cr": 10, "ar": 50, "epc": 100, "epl": 200},
      "priority": {"manual_boost": 5},
      "status": {"is_active": true}
    },
    "offer_001": {
      "name": "First",
      "geography": {"countries": ["russia"], "russia_link": "https://partner.example/one"},
      "limits": {"min_amount": 1000, "max_amount": 30000, "min_age": 18, "max_age": 70},
      "loan_terms": {"min_days": 7, "max_days": 30},
      "metrics": {"cr": 10, "ar": 50, "epc": 100, "epl": 200},
      "priority": {"manual_boost": 5},
      "status": {"is_active": false}
    },
    "offer_bad": {
      "name": "Broken",
      "geography": {"countries": ["russia"]},
      "limits": {"min_amount": 50000, "max_amount": 1000, "min_age": 18, "max_age": 70},
      "priority": {"manual_boost": 5},
      "status": {"is_active": true}
    }
  },
  "version": 3
}`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "offers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecode_PreservesFileOrder(t *testing.T) {
	offers, err := Decode([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, offers, 3)

	assert.Equal(t, "offer_002", offers[0].ID)
	assert.Equal(t, "offer_001", offers[1].ID)
	assert.Equal(t, "offer_bad", offers[2].ID)

	assert.Equal(t, []string{"russia", "kazakhstan"}, offers[0].Geography.Countries)
	assert.Equal(t, "https://partner.example/kz?sub={user_id}", offers[0].Geography.Links["kazakhstan"])
	assert.Equal(t, []string{"kazakhstan", "russia"}, offers[0].Geography.LinkCountries())
}

func TestDecode_Malformed(t *testing.T) {
	for _, input := range []string{``, `[]`, `{"microloans": []}`, `{"microloans": {"x": 1}}`} {
		_, err := Decode([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestFileRepository_SkipsInvalidOffers(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)

	repo, err := NewFileRepository(path, zap.NewNop())
	require.NoError(t, err)

	snap := repo.Snapshot()
	assert.Equal(t, 2, snap.Len())

	_, err = repo.GetOffer("offer_bad")
	assert.ErrorIs(t, err, ErrNotFound)

	offer, err := repo.GetOffer("offer_001")
	require.NoError(t, err)
	assert.Equal(t, "First", offer.Name)

	active := repo.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "offer_002", active[0].ID)
}

func TestFileRepository_MissingFileIsEmpty(t *testing.T) {
	repo, err := NewFileRepository(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, repo.Snapshot().Len())
}

func TestFileRepository_ReloadFailureKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	repo, err := NewFileRepository(path, zap.NewNop())
	require.NoError(t, err)
	before := repo.Snapshot()

	writeCatalog(t, dir, `{"microloans": [`)
	_, err = repo.Reload()
	assert.Error(t, err)
	assert.Same(t, before, repo.Snapshot())
}

func TestSnapshot_IgnoresDuplicateIDs(t *testing.T) {
	offers, err := Decode([]byte(sampleCatalog))
	require.NoError(t, err)

	dup := offers[0]
	dup.Name = "Duplicate"
	snap := NewSnapshot(append(offers, dup))

	assert.Equal(t, 3, snap.Len())
	got, ok := snap.Get("offer_002")
	require.True(t, ok)
	assert.Equal(t, "Second", got.Name)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, `{"microloans": {}}`)

	repo, err := NewFileRepository(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 0, repo.Snapshot().Len())

	reloaded := make(chan *Snapshot, 4)
	w := NewWatcher(repo, zap.NewNop(), 20*time.Millisecond, func(s *Snapshot) { reloaded <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeCatalog(t, dir, sampleCatalog)

	select {
	case snap := <-reloaded:
		assert.Equal(t, 2, snap.Len())
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, repo.Snapshot().Len())
}
