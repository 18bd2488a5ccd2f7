package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/session"
	"deepresearch/internal/types"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON string under prefix+id and tracks ids
// in a sorted set scored by update time.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to url (redis://host:port/db) and pings it.
func NewRedisStore(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStoreWithClient(ctx, redis.NewClient(opt), prefix, ttl)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(ctx context.Context, rdb *redis.Client, prefix string, ttl time.Duration) (*RedisStore, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		logging.StoreError("Redis ping failed: %v", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if prefix == "" {
		prefix = "deepresearch:session:"
	}
	logging.Store("RedisStore ready: prefix=%s ttl=%v", prefix, ttl)
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisStore) key(id string) string { return r.prefix + id }
func (r *RedisStore) indexKey() string     { return r.prefix + "index" }

func (r *RedisStore) Save(ctx context.Context, s *session.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(s.ID), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.UpdatedAt.UnixNano()), Member: s.ID})
		return nil
	})
	if err != nil {
		logging.StoreError("Failed to save session %s to redis: %v", s.ID, err)
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*session.Session, error) {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return decode(id, data)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

// List returns summaries, most recently updated first. Index entries whose
// document expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	var out []Summary
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decode(ids[i], []byte(str))
		if err != nil {
			logging.StoreWarn("Skipping undecodable session %s: %v", ids[i], err)
			continue
		}
		out = append(out, summarize(s))
	}
	if len(stale) > 0 {
		r.rdb.ZRem(ctx, r.indexKey(), stale...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
