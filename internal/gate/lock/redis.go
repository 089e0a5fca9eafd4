package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// unlockScript deletes the key only if it still holds our token, so a holder
// whose TTL lapsed cannot release somebody else's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisConfig struct {
	URL    string
	Prefix string        // key prefix, default "campusgate:lock:"
	TTL    time.Duration // lease length, default 10s
	Wait   time.Duration // acquisition budget, default 2s
	Poll   time.Duration // retry interval while waiting, default 25ms
}

// RedisLocker is a Locker shared by every server instance pointing at the
// same Redis. Holds are SET NX leases with a TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	l := &RedisLocker{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		wait:   cfg.Wait,
		poll:   cfg.Poll,
	}
	if l.prefix == "" {
		l.prefix = "campusgate:lock:"
	}
	if l.ttl <= 0 {
		l.ttl = 10 * time.Second
	}
	if l.wait <= 0 {
		l.wait = 2 * time.Second
	}
	if l.poll <= 0 {
		l.poll = 25 * time.Millisecond
	}
	return l, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Best effort: on failure the lease expires after ttl.
				_ = unlockScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrContended
		}

		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
