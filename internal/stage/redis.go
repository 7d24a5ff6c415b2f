package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/resilience"
)

// redisNamespace prefixes every stage key written to Redis.
const redisNamespace = "dea:"

// RedisStore keeps entries in Redis behind a circuit breaker so an
// unreachable server degrades to cache misses instead of stalling builds.
type RedisStore struct {
	client  *pkgredis.Client
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
}

func NewRedisStore(client *pkgredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		breaker: resilience.NewCircuitBreaker("stage-redis", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			IsFailure: func(err error) bool {
				return !errors.Is(err, apperrors.ErrCacheMiss)
			},
		}),
	}
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.breaker.Execute(func() error {
		v, found, err := s.client.Get(ctx, key.String())
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrCacheMiss
		}
		data = v
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.validate(); err != nil {
		return err
	}
	err := s.breaker.Execute(func() error {
		return s.client.Put(ctx, key.String(), value, s.ttl)
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, dataset string) error {
	prefix := keyEscaper.Replace(dataset) + "/"
	return s.breaker.Execute(func() error {
		if _, err := s.client.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("invalidating %s: %w", dataset, err)
		}
		return nil
	})
}

// Ping reports whether the server answers, bypassing the breaker.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
