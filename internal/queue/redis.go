package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client the visited set needs.
type RedisClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisVisitedSet shares a job's visited key set between processes. Keys are
// kept in one redis set per job so Reset is a single delete.
type RedisVisitedSet struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

func NewRedisVisitedSet(client RedisClient, jobID string, ttl time.Duration) *RedisVisitedSet {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisVisitedSet{
		client: client,
		key:    "visited:" + jobID,
		ttl:    ttl,
	}
}

// Admit returns true with an error when the url was added but its TTL was
// not refreshed.
func (r *RedisVisitedSet) Admit(ctx context.Context, rawURL string) (bool, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return false, err
	}

	added, err := r.client.SAdd(ctx, r.key, hashKey(canonical)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to admit url: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	if err := r.client.Expire(ctx, r.key, r.ttl).Err(); err != nil {
		return true, fmt.Errorf("failed to set visited ttl: %w", err)
	}
	return true, nil
}

func (r *RedisVisitedSet) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to reset visited set: %w", err)
	}
	return nil
}

func hashKey(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
