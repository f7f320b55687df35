package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "geoquiz:session:"

// RedisStore keeps sessions in Redis/Dragonfly as JSON with a TTL. It holds
// working state only; finished quizzes are not archived.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on client. A zero ttl uses
// DefaultSessionTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*State, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session %s: %w", key, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", key, err)
	}
	return nil
}
