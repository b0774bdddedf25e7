package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLocker serializes per-label credential operations across processes.
// It satisfies types.KeyLocker; single-process deployments can use the
// in-process locker instead.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// TTL caps how long a crashed holder can wedge a label.
const lockTTL = 30 * time.Second

const lockRetryInterval = 100 * time.Millisecond

// releaseScript deletes the lock only when it still holds our token, so a
// holder that outlived its TTL cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(addr, password string, db int, prefix string) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisLocker{
		client: rdb,
		prefix: prefix,
		ttl:    lockTTL,
	}, nil
}

func (l *RedisLocker) lockKey(label string) string {
	return l.prefix + ":key_lock:" + label
}

// Lock acquires the per-label lock, retrying until ctx is done. The
// returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, label string) (func(), error) {
	key := l.lockKey(label)
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
