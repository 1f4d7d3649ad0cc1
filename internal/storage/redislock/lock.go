// Package redislock provides a short-lived mutual exclusion lock on Redis.
// It only reduces duplicate work between replicas; callers must stay
// correct without it.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client goredis.Cmdable
	key    string
	ttl    time.Duration
}

func New(client goredis.Cmdable, key string, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: client required")
	}
	if key == "" {
		return nil, errors.New("redislock: key required")
	}
	if ttl <= 0 {
		return nil, errors.New("redislock: ttl must be positive")
	}
	return &Locker{client: client, key: key, ttl: ttl}, nil
}

// TryLock acquires the lock without waiting. The returned release func is
// nil when the lock was not acquired.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}
	return release, true, nil
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
