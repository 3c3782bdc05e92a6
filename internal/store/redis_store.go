package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/config"
)

// redisStore implements Store using Redis. Every call runs under a bounded
// timeout; transient failures are retried a small number of times before they
// surface to the caller.
type redisStore struct {
	client     *redis.Client
	timeout    time.Duration
	maxRetries int
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(cfg config.RedisConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &redisStore{
		client:     client,
		timeout:    timeout,
		maxRetries: 2,
	}, nil
}

func (s *redisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// retry runs fn up to maxRetries+1 times, backing off briefly between
// attempts. Not-found and conflict results are terminal, never retried.
func (s *redisStore) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if attempt >= s.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		b, err := s.client.Get(opCtx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		data = b
		return nil
	})
	return data, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		if err := s.client.Set(opCtx, key, value, ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil
	})
}

func (s *redisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		set, err := s.client.SetNX(opCtx, key, value, ttl).Result()
		if err != nil {
			return fmt.Errorf("redis setnx %s: %w", key, err)
		}
		ok = set
		return nil
	})
	return ok, err
}

// Update runs fn under WATCH so a concurrent write to key between the read
// and the MULTI/EXEC aborts the transaction. The caller decides whether to
// retry the whole read-mutate-write cycle.
func (s *redisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(opCtx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("redis get %s: %w", key, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			pipe.Set(opCtx, key, next, ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(opCtx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConcurrentModification
	}
	return err
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		if err := s.client.Del(opCtx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

func (s *redisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		if err := s.client.SAdd(opCtx, key, args...).Err(); err != nil {
			return fmt.Errorf("redis sadd %s: %w", key, err)
		}
		return nil
	})
}

func (s *redisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		if err := s.client.SRem(opCtx, key, args...).Err(); err != nil {
			return fmt.Errorf("redis srem %s: %w", key, err)
		}
		return nil
	})
}

func (s *redisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.retry(ctx, func() error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		m, err := s.client.SMembers(opCtx, key).Result()
		if err != nil {
			return fmt.Errorf("redis smembers %s: %w", key, err)
		}
		members = m
		return nil
	})
	return members, err
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
