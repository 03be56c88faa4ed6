package funnel

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"microloan-funnel/internal/cache"
	"microloan-funnel/internal/models"
)

// DefaultConversationTTL bounds how long an untouched conversation is kept.
const DefaultConversationTTL = 24 * time.Hour

// Dispatcher runs one controller step per inbound input. Steps for the same
// user are serialized; different users proceed in parallel.
type Dispatcher struct {
	ctrl   *Controller
	store  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	locks  userLocks
	now    func() time.Time
}

// NewDispatcher creates a dispatcher that keeps conversations in store.
func NewDispatcher(ctrl *Controller, store cache.Cache, ttl time.Duration, logger *zap.Logger) *Dispatcher {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ctrl:   ctrl,
		store:  store,
		ttl:    ttl,
		logger: logger.Named("dispatcher"),
		locks:  userLocks{m: make(map[int64]*userLock)},
		now:    time.Now,
	}
}

func conversationKey(userID int64) string {
	return "conversation:" + strconv.FormatInt(userID, 10)
}

// Dispatch parses in against the user's current conversation, applies it
// and persists the result.
func (d *Dispatcher) Dispatch(ctx context.Context, user models.UserIdentity, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	unlock := d.locks.lock(user.UserID)
	defer unlock()

	conv := d.load(ctx, user.UserID)
	next, out := d.ctrl.Handle(ctx, conv, user, ParseInput(conv, in))
	next.UpdatedAt = d.now().UTC()
	d.save(ctx, next)
	return out, nil
}

// Conversation returns the stored conversation of a user, or an idle one.
func (d *Dispatcher) Conversation(ctx context.Context, userID int64) Conversation {
	unlock := d.locks.lock(userID)
	defer unlock()
	return d.load(ctx, userID)
}

// Reset forgets the stored conversation of a user.
func (d *Dispatcher) Reset(ctx context.Context, userID int64) error {
	unlock := d.locks.lock(userID)
	defer unlock()
	return d.store.Delete(ctx, conversationKey(userID))
}

func (d *Dispatcher) load(ctx context.Context, userID int64) Conversation {
	var conv Conversation
	err := cache.GetJSON(ctx, d.store, conversationKey(userID), &conv)
	if errors.Is(err, cache.ErrNotFound) {
		return NewConversation(userID)
	}
	if err != nil {
		d.logger.Warn("conversation state unreadable, starting over",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return NewConversation(userID)
	}
	return conv
}

func (d *Dispatcher) save(ctx context.Context, conv Conversation) {
	if err := cache.SetJSON(ctx, d.store, conversationKey(conv.UserID), conv, d.ttl); err != nil {
		d.logger.Error("failed to save conversation state",
			zap.Int64("user_id", conv.UserID),
			zap.Error(err))
	}
}

// userLocks hands out one mutex per user and drops it when unused.
type userLocks struct {
	mu sync.Mutex
	m  map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}
