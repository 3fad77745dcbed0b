package handshake

import (
	"context"
	"errors"
	"time"

	"channel-hub/internal/redis"
)

const statePrefix = "handshake:"

// RedisStateStore keeps handshake state in Redis so callbacks can land
// on any instance. Single-use semantics come from GETDEL.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Save(ctx context.Context, key string, st *State, ttl time.Duration) error {
	return s.client.Set(ctx, statePrefix+key, st, ttl)
}

func (s *RedisStateStore) Consume(ctx context.Context, key string) (*State, error) {
	var st State
	err := s.client.GetDelJSON(ctx, statePrefix+key, &st)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStateStore) Get(ctx context.Context, key string) (*State, error) {
	var st State
	err := s.client.GetJSON(ctx, statePrefix+key, &st)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, statePrefix+key)
}
