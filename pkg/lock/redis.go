package lock

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisAPI is the subset of the go-redis client used for locking.
type RedisAPI interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker holds locks as keys with an expiry.
type RedisLocker struct {
	client RedisAPI
	prefix string
	owner  string
}

func NewRedisLocker(client RedisAPI, prefix, owner string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, owner: owner}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := l.prefix + name
	token := leaseToken(l.owner)
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, token: token}, true, nil
}

type redisLease struct {
	client RedisAPI
	key    string
	token  string
}

func (r *redisLease) Unlock(ctx context.Context) error {
	err := r.client.Eval(ctx, releaseScript, []string{r.key}, r.token).Err()
	if err != nil && err != goredis.Nil {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	return nil
}
