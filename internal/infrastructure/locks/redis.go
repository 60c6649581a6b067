package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker holds leases (SET NX PX) so several API instances share one set of
// locks. A lease expires after TTL if its holder dies.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, prefix: "ogcr:lock:", ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (Release, error) {
	key := l.prefix + name
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return func() {
		// Released with a fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
		if err != nil {
			log.Warn().Err(err).Str("lock", name).Msg("lock release failed")
			return
		}
		if n == 0 {
			log.Warn().Str("lock", name).Msg("lock lease expired before release")
		}
	}, nil
}

func (l *RedisLocker) AcquireAll(ctx context.Context, names ...string) (Release, error) {
	return acquireAll(ctx, l, names)
}
