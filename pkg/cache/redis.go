package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "strutex:cache:"

// Redis stores entries as plain string keys with native expiry.
type Redis struct {
	counters

	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisOptions configures a Redis cache.
type RedisOptions struct {
	Prefix string        // default "strutex:cache:"
	TTL    time.Duration // default TTL for Set calls with ttl 0
}

// OpenRedis connects using a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string, opts RedisOptions) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, storeErr("open", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storeErr("open", fmt.Errorf("ping redis: %w", err))
	}
	r := NewRedis(client, opts)
	r.owned = true
	return r, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: opts.TTL}
}

func (r *Redis) key(k Key) string { return r.prefix + k.String() }

func (r *Redis) Get(ctx context.Context, key Key) (Value, bool, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.miss()
		return nil, false, nil
	}
	if err != nil {
		r.miss()
		return nil, false, storeErr("get", err)
	}
	r.hit()
	return Value(b), true, nil
}

func (r *Redis) Set(ctx context.Context, key Key, value Value, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	// a zero expiration means no expiry for go-redis
	if err := r.client.Set(ctx, r.key(key), []byte(value), ttl).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key Key) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, storeErr("delete", err)
	}
	return n > 0, nil
}

// Clear removes every key under the prefix.
func (r *Redis) Clear(ctx context.Context) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, storeErr("clear", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, storeErr("clear", err)
	}
	if err := flush(); err != nil {
		return removed, storeErr("clear", err)
	}
	return removed, nil
}

// Stats counts keys under the prefix; Size is 0 when the server is
// unreachable.
func (r *Redis) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if iter.Err() != nil {
		size = 0
	}
	return r.stats(size)
}

// Close closes the client when the cache opened it.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
