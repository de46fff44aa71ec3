package proxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client the health store needs.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisHealthStore keeps one hash per proxy, proxy_status:<ip>, with a
// last_burned_<retailer> field holding a unix millisecond timestamp.
type RedisHealthStore struct {
	client RedisClient
}

func NewRedisHealthStore(client RedisClient) *RedisHealthStore {
	return &RedisHealthStore{client: client}
}

func statusKey(ip string) string {
	return "proxy_status:" + ip
}

func burnField(retailer string) string {
	return "last_burned_" + retailer
}

func (r *RedisHealthStore) MarkBurned(ctx context.Context, ip, retailer string, at time.Time) error {
	err := r.client.HSet(ctx, statusKey(ip), burnField(retailer), at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("failed to mark proxy %s burned for %s: %w", ip, retailer, err)
	}
	return nil
}

func (r *RedisHealthStore) LastBurned(ctx context.Context, ip, retailer string) (time.Time, bool, error) {
	val, err := r.client.HGet(ctx, statusKey(ip), burnField(retailer)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read proxy status for %s: %w", ip, err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse burn timestamp %q: %w", val, err)
	}
	return time.UnixMilli(ms), true, nil
}
