package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = time.Hour

// HabitListVersionKey is the Redis counter bumped whenever a user's habits change.
func HabitListVersionKey(userID uint) string {
	return fmt.Sprintf("cache:user:%d:habits:version", userID)
}

// HabitListCacheKey is the Redis key holding a user's serialized habit list as of version.
func HabitListCacheKey(userID uint, version int64) string {
	return fmt.Sprintf("cache:user:%d:habits:v%d", userID, version)
}

// CacheGetInt reads an integer counter. A missing key, a disabled cache or any error reads as 0.
func CacheGetInt(ctx context.Context, key string) int64 {
	rc := GetRedis()
	if rc == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := rc.Get(ctx, key).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			Sugar.Warnf("cache get failed key=%s err=%v", key, err)
		}
		return 0
	}
	return n
}

// CacheIncr increments a counter and returns its new value. ok is false when
// the cache is disabled or Redis fails.
func CacheIncr(ctx context.Context, key string) (n int64, ok bool) {
	rc := GetRedis()
	if rc == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := rc.Incr(ctx, key).Result()
	if err != nil {
		Sugar.Warnf("cache incr failed key=%s err=%v", key, err)
		return 0, false
	}
	return n, true
}

// CacheGetJSON decodes a cached value into out. It reports false on a miss or any error.
func CacheGetJSON(ctx context.Context, key string, out interface{}) bool {
	rc := GetRedis()
	if rc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		Sugar.Debugf("cache get miss key=%s err=%v", key, err)
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		Sugar.Warnf("cache decode failed key=%s err=%v", key, err)
		return false
	}
	return true
}

// CacheSetJSON marshals v and stores it with ttl (one hour when ttl <= 0).
func CacheSetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// CacheDelete removes keys, logging rather than failing on Redis errors.
func CacheDelete(ctx context.Context, keys ...string) {
	rc := GetRedis()
	if rc == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Del(ctx, keys...).Err(); err != nil {
		Sugar.Warnf("cache delete failed keys=%v err=%v", keys, err)
	}
}
