package authsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each flow's notes in one Redis hash with a TTL.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore. An empty prefix selects "authflow"; ttl <= 0 selects DefaultTTL.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "authflow"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(flowID string) string {
	return s.prefix + ":" + flowID
}

// GetNote implements Store.
func (s *RedisStore) GetNote(ctx context.Context, flowID, name string) (string, error) {
	v, err := s.redis.HGet(ctx, s.key(flowID), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return v, nil
}

// SetNote implements Store.
func (s *RedisStore) SetNote(ctx context.Context, flowID, name, value string) error {
	key := s.key(flowID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, name, value)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// RemoveNote implements Store.
func (s *RedisStore) RemoveNote(ctx context.Context, flowID, name string) error {
	if err := s.redis.HDel(ctx, s.key(flowID), name).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
