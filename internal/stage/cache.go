package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/redis"
)

// Open creates the store selected by cfg.Backend.
func Open(cfg config.CacheConfig, redisCfg config.RedisConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		client, err := pkgredis.NewClient(redisCfg, redisNamespace)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.TTL), nil
	}
	return nil, fmt.Errorf("%w: unknown cache backend %q", apperrors.ErrInvalidInput, cfg.Backend)
}

// Cache layers JSON payloads, checksummed frames and expiry over a Store.
// Entries older than ttl count as misses; a zero ttl never expires.
type Cache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// NewCache wraps store. m may be nil.
func NewCache(store Store, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("stage-cache"),
		now:     time.Now,
	}
}

func (c *Cache) record(s Stage, result string) {
	if c.metrics != nil {
		c.metrics.StageCacheTotal.WithLabelValues(string(s), result).Inc()
	}
}

// Load decodes the entry at key into v. A missing, expired or corrupt entry
// returns an error wrapping ErrCacheMiss or ErrCorruptEntry.
func (c *Cache) Load(ctx context.Context, key Key, v any) error {
	frame, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrCacheMiss) {
			c.record(key.Stage, "miss")
			return err
		}
		c.record(key.Stage, "error")
		return err
	}
	header, payload, err := DecodeFrame(frame)
	if err != nil {
		c.record(key.Stage, "corrupt")
		c.logger.Warn("corrupt stage entry", "key", key.String(), "error", err)
		return err
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(header.CreatedAt, 0)) > c.ttl {
		c.record(key.Stage, "expired")
		return fmt.Errorf("%w: %s expired", apperrors.ErrCacheMiss, key)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		c.record(key.Stage, "corrupt")
		return fmt.Errorf("%w: decoding %s: %v", apperrors.ErrCorruptEntry, key, err)
	}
	c.record(key.Stage, "hit")
	return nil
}

// Save encodes v and stores it at key.
func (c *Cache) Save(ctx context.Context, key Key, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.store.Put(ctx, key, EncodeFrame(payload, c.now()))
}

func (c *Cache) Invalidate(ctx context.Context, dataset string) error {
	if err := c.store.Invalidate(ctx, dataset); err != nil {
		return err
	}
	c.logger.Info("stage cache invalidated", "dataset", dataset)
	return nil
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// Fetch returns the cached value at key, or runs compute, stores its result
// and returns it. Concurrent callers for one key share a single compute. The
// boolean reports a cache hit. Errors from compute are returned and never
// cached; a failed store write is logged and otherwise ignored.
func Fetch[T any](ctx context.Context, c *Cache, key Key, compute func(context.Context) (T, error)) (T, bool, error) {
	var out T
	if err := c.Load(ctx, key, &out); err == nil {
		return out, true, nil
	} else if !errors.Is(err, apperrors.ErrCacheMiss) && !errors.Is(err, apperrors.ErrCorruptEntry) {
		c.logger.Warn("stage cache lookup failed", "key", key.String(), "error", err)
	}

	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		var cached T
		if err := c.Load(ctx, key, &cached); err == nil {
			return cached, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Save(ctx, key, v); err != nil {
			c.logger.Warn("stage cache write failed", "key", key.String(), "error", err)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}
