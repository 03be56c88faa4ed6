package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"microloan-funnel/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublish_DeliversToSubscribers(t *testing.T) {
	m := NewManager(true, zap.NewNop())

	var clicks, shown atomic.Int32
	var got LinkClickedData
	done := make(chan struct{})

	m.Subscribe(EventLinkClicked, func(_ context.Context, e Event) error {
		got = e.Data.(LinkClickedData)
		clicks.Add(1)
		close(done)
		return nil
	})
	m.Subscribe(EventOffersShown, func(context.Context, Event) error {
		shown.Add(1)
		return nil
	})

	m.PublishLinkClicked(context.Background(), "s-1", 42, "offer_1", "russia")
	<-done
	m.Wait()

	assert.Equal(t, int32(1), clicks.Load())
	assert.Equal(t, int32(0), shown.Load())
	assert.Equal(t, LinkClickedData{SessionID: "s-1", UserID: 42, OfferID: "offer_1", Country: "russia"}, got)
}

func TestPublish_HandlerErrorDoesNotPropagate(t *testing.T) {
	m := NewManager(true, zap.NewNop())

	var calls atomic.Int32
	m.Subscribe(EventSessionStarted, func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("sink unavailable")
	})
	m.Subscribe(EventSessionStarted, func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	m.PublishSessionStarted(context.Background(), "s-1", 1, models.Criteria{Country: "russia", Age: 30})
	m.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestPublish_SurvivesCancelledContext(t *testing.T) {
	m := NewManager(true, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr error
	m.Subscribe(EventCatalogReloaded, func(hctx context.Context, _ Event) error {
		ctxErr = hctx.Err()
		return nil
	})
	m.PublishCatalogReloaded(ctx, 3, 2)
	m.Wait()

	require.NoError(t, ctxErr)
}

func TestDisabledManager(t *testing.T) {
	m := NewManager(false, nil)
	assert.False(t, m.Enabled())

	var calls atomic.Int32
	m.Subscribe(EventLinkClicked, func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	m.PublishLinkClicked(context.Background(), "s", 1, "o", "russia")
	m.Wait()

	assert.Equal(t, int32(0), calls.Load())
}

func TestShutdown(t *testing.T) {
	m := NewManager(true, zap.NewNop())

	var calls atomic.Int32
	m.Subscribe(EventOffersShown, func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	m.PublishOffersShown(context.Background(), "s", 1, []string{"a"})
	m.Shutdown()
	assert.Equal(t, int32(1), calls.Load())

	m.PublishOffersShown(context.Background(), "s", 1, []string{"a"})
	m.Wait()
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, m.Enabled())
}
