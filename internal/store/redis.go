package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "ble:reading:"
	readingTTL = 24 * time.Hour
)

// RedisReadings shares the latest readings with other processes on the
// same redis. Entries expire after a day without a sweep.
type RedisReadings struct{ rdb *redis.Client }

func NewRedisReadings(rdb *redis.Client) *RedisReadings { return &RedisReadings{rdb: rdb} }

func key(address string) string { return keyPrefix + address }

func (c *RedisReadings) Save(ctx context.Context, r Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(r.Address), b, readingTTL).Err()
}

func (c *RedisReadings) Get(ctx context.Context, address string) (Reading, bool, error) {
	b, err := c.rdb.Get(ctx, key(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, err
	}
	var r Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return Reading{}, false, err
	}
	return r, true, nil
}

func (c *RedisReadings) List(ctx context.Context) ([]Reading, error) {
	var out []Reading
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	for iter.Next(ctx) {
		addr := strings.TrimPrefix(iter.Val(), keyPrefix)
		r, ok, err := c.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortReadings(out)
	return out, nil
}

func (c *RedisReadings) RemoveAllExcept(ctx context.Context, keep []string) ([]string, error) {
	set := keepSet(keep)
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	var removed []string
	for iter.Next(ctx) {
		full := iter.Val()
		if !strings.HasPrefix(full, keyPrefix) {
			continue
		}
		addr := strings.TrimPrefix(full, keyPrefix)
		if _, ok := set[addr]; ok {
			continue
		}
		if err := c.rdb.Del(ctx, full).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, addr)
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
