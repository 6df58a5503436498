package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IntegrityLockKey guards integrity scans so only one runs at a time.
const IntegrityLockKey = "inventory:integrity:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a token-owned redis lock taken with SET NX.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock takes key for ttl or returns ErrLockHeld.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, fmt.Errorf("shared: acquire %s: redis client not initialised", key)
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// Release drops the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("shared: release %s: %w", l.key, err)
	}
	return nil
}
