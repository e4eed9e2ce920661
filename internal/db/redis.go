package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventTimeout bounds every command on the event bus. Publishing scan
// events is best effort and must not hold up persisting a run.
const eventTimeout = 2 * time.Second

// NewRedisClient connects to the event bus named by redisURL. Timeouts set in
// the URL win over eventTimeout.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 || opts.DialTimeout > eventTimeout {
		opts.DialTimeout = eventTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = eventTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = eventTimeout
	}
	opts.MaxRetries = 1

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
