package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisUpdateAttempts = 5

// RedisStore keeps the document under one key. Update uses WATCH/MULTI so concurrent
// writers retry instead of clobbering each other.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "spx0dte:lifecycle"
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	return r.get(ctx, r.rdb)
}

func (r *RedisStore) get(ctx context.Context, c redis.Cmdable) (*State, error) {
	data, err := c.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DefaultState(""), nil
		}
		return nil, fmt.Errorf("redis: get %s: %w", r.key, err)
	}
	return decodeState(data, "redis"), nil
}

func (r *RedisStore) Save(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal lifecycle state: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, fn func(*State) error) error {
	txf := func(tx *redis.Tx) error {
		st, err := r.get(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("redis: marshal lifecycle state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: update %s: too much contention", r.key)
}

var _ Store = (*RedisStore)(nil)
