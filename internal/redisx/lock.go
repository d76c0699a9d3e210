package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// release deletes the key only while it still holds our token, so a lock
// that expired and was taken by another replica is left alone.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a SETNX lock with a TTL, one per job name.
type Lock struct {
	RDB   redis.Cmdable
	Key   string
	TTL   time.Duration
	Token string
}

func NewLock(rdb redis.Cmdable, job string, ttl time.Duration) *Lock {
	return &Lock{RDB: rdb, Key: fmt.Sprintf(KeyJobLock, job), TTL: ttl, Token: uuid.NewString()}
}

func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.RDB.SetNX(ctx, l.Key, l.Token, l.TTL).Result()
}

func (l *Lock) Unlock(ctx context.Context) error {
	return release.Run(ctx, l.RDB, []string{l.Key}, l.Token).Err()
}
