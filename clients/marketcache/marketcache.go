package marketcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"flowsentry/config"
)

// ErrNotConfigured is returned when no redis address is configured.
var ErrNotConfigured = errors.New("market cache not configured")

// ErrCacheMiss is returned when a requested key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Store is the interface for warm-state caching operations.
// This allows for easy mocking in tests.
type Store interface {
	IsEnabled() bool
	SetAssetCtx(ctx context.Context, coin string, value any) error
	GetAssetCtx(ctx context.Context, coin string, dest any) error
	SaveSeenHashes(ctx context.Context, instrument string, hashes []string) error
	LoadSeenHashes(ctx context.Context, instrument string) ([]string, error)
	SaveGateState(ctx context.Context, value any) error
	LoadGateState(ctx context.Context, dest any) error
	Ping(ctx context.Context) error
	Close() error
}

// Ensure Cache implements Store interface
var _ Store = (*Cache)(nil)

// Cache stores short-lived market context and restart snapshots in redis.
// Asset contexts carry a TTL so stale prices age out; dedup and gate
// snapshots persist until overwritten by the next snapshot cycle.
type Cache struct {
	logger      *zap.Logger
	client      *redis.Client
	prefix      string
	assetCtxTTL time.Duration
}

// NewCache creates a new redis-backed cache. When no address is configured
// the cache is disabled and all operations return ErrNotConfigured.
func NewCache(logger *zap.Logger, cfg *config.Config) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, market cache will be disabled")
		return &Cache{logger: logger, prefix: cfg.Redis.KeyPrefix}
	}

	return &Cache{
		logger: logger,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
		prefix:      cfg.Redis.KeyPrefix,
		assetCtxTTL: cfg.Redis.AssetCtxTTL,
	}
}

// IsEnabled returns true if the cache has a redis connection.
func (c *Cache) IsEnabled() bool {
	return c.client != nil
}

// Ping verifies the redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.IsEnabled() {
		return ErrNotConfigured
	}
	return c.client.Ping(ctx).Err()
}

// SetAssetCtx stores the latest asset context for a coin with the configured
// TTL.
func (c *Cache) SetAssetCtx(ctx context.Context, coin string, value any) error {
	return c.set(ctx, "assetctx:"+coin, value, c.assetCtxTTL)
}

// GetAssetCtx loads the cached asset context for a coin.
func (c *Cache) GetAssetCtx(ctx context.Context, coin string, dest any) error {
	return c.get(ctx, "assetctx:"+coin, dest)
}

// SaveSeenHashes snapshots the dedup set for one instrument.
func (c *Cache) SaveSeenHashes(ctx context.Context, instrument string, hashes []string) error {
	return c.set(ctx, "seen:"+instrument, hashes, 0)
}

// LoadSeenHashes restores the dedup set for one instrument. A missing key
// returns an empty slice, not an error.
func (c *Cache) LoadSeenHashes(ctx context.Context, instrument string) ([]string, error) {
	var hashes []string
	err := c.get(ctx, "seen:"+instrument, &hashes)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// SaveGateState snapshots the alert gate counters.
func (c *Cache) SaveGateState(ctx context.Context, value any) error {
	return c.set(ctx, "gate", value, 0)
}

// LoadGateState restores the alert gate counters.
func (c *Cache) LoadGateState(ctx context.Context, dest any) error {
	return c.get(ctx, "gate", dest)
}

func (c *Cache) Close() error {
	if !c.IsEnabled() {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsEnabled() {
		return ErrNotConfigured
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, dest any) error {
	if !c.IsEnabled() {
		return ErrNotConfigured
	}

	data, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
