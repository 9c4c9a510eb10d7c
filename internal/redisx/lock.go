package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// hapus lock hanya kalau token masih milik kita
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-holder lease on a Redis key.
type Locker struct{ rdb redis.Cmdable }

func NewLocker(rdb redis.Cmdable) *Locker { return &Locker{rdb: rdb} }

func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := fmt.Sprintf(KeyLock, name)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
