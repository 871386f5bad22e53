// Package redis provides the cache of recent post ids and unread notification
// counters in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/redis/go-redis/v9"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
	ttl time.Duration
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working. Unread counters expire after ttl.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
		ttl: ttl,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	recentPostsKey = "posts:recent"
	maxSize        = 10
)

// AddRecentPost adds the post id to the sorted set of recent posts, scored by
// creation time.
func (r *Redis) AddRecentPost(ctx context.Context, id string, createdAt time.Time) error {
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, recentPostsKey, redis.Z{
				Score:  float64(createdAt.UnixMicro()),
				Member: id,
			})
			return nil
		})
		return err
	}, recentPostsKey)
	if err != nil {
		return fmt.Errorf("redis add recent post: %w", err)
	}

	// Keep only the newest maxSize ids.
	if err := r.evictOldest(ctx); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// RecentPostIDs returns the cached post ids, newest first.
func (r *Redis) RecentPostIDs(ctx context.Context) ([]string, error) {
	ids, err := r.cli.ZRevRange(ctx, recentPostsKey, 0, maxSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	return ids, nil
}

// unreadKey holds a hash with the unread count in field n and a version in
// field v that every write bumps.
func unreadKey(recipient string) string {
	return fmt.Sprintf("notifications:%s:unread", recipient)
}

const (
	countField   = "n"
	versionField = "v"
)

type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readUnread(ctx context.Context, c hashReader, key string) (feed.CachedCount, error) {
	vals, err := c.HMGet(ctx, key, countField, versionField).Result()
	if err != nil {
		return feed.CachedCount{}, fmt.Errorf("hmget: %w", err)
	}
	var out feed.CachedCount
	if s, ok := vals[1].(string); ok {
		if out.Version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return feed.CachedCount{}, fmt.Errorf("parse version: %w", err)
		}
	}
	if s, ok := vals[0].(string); ok {
		if out.N, err = strconv.Atoi(s); err != nil {
			return feed.CachedCount{}, fmt.Errorf("parse count: %w", err)
		}
		out.OK = true
	}
	return out, nil
}

// writeUnread queues storing n, or dropping the count when n is negative, and
// bumping the version.
func (r *Redis) writeUnread(ctx context.Context, pipe redis.Pipeliner, key string, n int) {
	if n < 0 {
		pipe.HDel(ctx, key, countField)
	} else {
		pipe.HSet(ctx, key, countField, strconv.Itoa(n))
	}
	pipe.HIncrBy(ctx, key, versionField, 1)
	pipe.Expire(ctx, key, r.ttl)
}

// UnreadCount returns the cached unread count of recipient. OK is false when
// nothing is cached.
func (r *Redis) UnreadCount(ctx context.Context, recipient string) (feed.CachedCount, error) {
	return readUnread(ctx, r.cli, unreadKey(recipient))
}

// SetUnreadCount overwrites the cached unread count of recipient
// unconditionally.
func (r *Redis) SetUnreadCount(ctx context.Context, recipient string, n int) error {
	key := unreadKey(recipient)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.writeUnread(ctx, pipe, key, max(n, 0))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set unread count: %w", err)
	}
	return nil
}

// ReplaceUnreadCount sets the cached unread count of recipient to n unless
// the counter was written since it was read as seen. It reports whether n
// was stored.
func (r *Redis) ReplaceUnreadCount(ctx context.Context, recipient string, seen feed.CachedCount, n int) (bool, error) {
	key := unreadKey(recipient)
	var written bool
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readUnread(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != seen.Version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.writeUnread(ctx, pipe, key, max(n, 0))
			return nil
		})
		written = err == nil
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis replace unread count: %w", err)
	}
	return written, nil
}

// BeginUnreadChange bumps the version of the unread counter of recipient
// ahead of a store write that changes the count, and returns the new
// version. Seeds computed before the write can no longer be stored.
func (r *Redis) BeginUnreadChange(ctx context.Context, recipient string) (int64, error) {
	key := unreadKey(recipient)
	var version *redis.IntCmd
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		version = pipe.HIncrBy(ctx, key, versionField, 1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis begin unread change: %w", err)
	}
	return version.Val(), nil
}

// AdjustUnreadCount adds delta to the cached unread count of recipient once
// the store write announced by BeginUnreadChange is done. since is the
// version BeginUnreadChange returned. If the counter was written in between,
// it is unknown whether that write already saw the change, so the count is
// dropped and recomputed from the database on the next read. A counter that
// is not cached stays absent. The counter never drops below zero.
func (r *Redis) AdjustUnreadCount(ctx context.Context, recipient string, since int64, delta int) error {
	key := unreadKey(recipient)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readUnread(ctx, tx, key)
		if err != nil {
			return err
		}
		n := -1
		if cur.OK && cur.Version == since {
			n = max(cur.N+delta, 0)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.writeUnread(ctx, pipe, key, n)
			return nil
		})
		return err
	}, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis adjust unread count: %w", err)
	}

	// Lost the race to another writer: drop the count.
	_, err = r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.writeUnread(ctx, pipe, key, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis drop unread count: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context) error {
	if err := r.cli.ZRemRangeByRank(ctx, recentPostsKey, 0, int64(-maxSize-1)).Err(); err != nil {
		return fmt.Errorf("zremrangebyrank: %w", err)
	}
	return nil
}
