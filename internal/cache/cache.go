// Package cache holds short-lived per-user values, such as conversation
// state, in Redis or in process memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a cache backend.
type Options struct {
	Backend   string // "redis" or "memory"
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// New builds the configured backend. When Redis is unreachable it falls
// back to process memory and logs the reason.
func New(ctx context.Context, opts Options, logger *zap.Logger) Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Backend != "redis" {
		return NewInMemoryCache()
	}

	rc, err := NewRedisCache(ctx, opts)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory conversation store",
			zap.String("addr", opts.Addr),
			zap.Error(err))
		return NewInMemoryCache()
	}
	logger.Info("connected to redis", zap.String("addr", opts.Addr))
	return rc
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, prefix: opts.KeyPrefix}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// sweepInterval is how often the in-memory cache drops expired entries that
// were never read again.
const sweepInterval = time.Minute

// InMemoryCache is a process-local cache. Expired entries are dropped on
// read and by a background sweep that runs until Close.
type InMemoryCache struct {
	mu        sync.Mutex
	data      map[string]cacheEntry
	now       func() time.Time
	sweepTick *time.Ticker
	stopSweep chan struct{}
	stopOnce  sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewInMemoryCache() *InMemoryCache {
	m := &InMemoryCache{
		data:      make(map[string]cacheEntry),
		now:       time.Now,
		sweepTick: time.NewTicker(sweepInterval),
		stopSweep: make(chan struct{}),
	}

	go m.sweep()

	return m
}

func (m *InMemoryCache) sweep() {
	for {
		select {
		case <-m.sweepTick.C:
			m.evictExpired()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *InMemoryCache) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, entry := range m.data {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.data, key)
		}
	}
}

func (m *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.data, key)
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *InMemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *InMemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Close stops the expiry sweep. It is safe to call more than once.
func (m *InMemoryCache) Close() error {
	m.stopOnce.Do(func() {
		m.sweepTick.Stop()
		close(m.stopSweep)
	})
	return nil
}

func GetJSON(ctx context.Context, cache Cache, key string, dest interface{}) error {
	data, err := cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

func SetJSON(ctx context.Context, cache Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return cache.Set(ctx, key, data, ttl)
}
