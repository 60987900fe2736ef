package redis

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockNotObtained means another holder owns the lock
var ErrLockNotObtained = redislock.ErrNotObtained

// ErrNotInitialized is returned when the shared client has not been set up
var ErrNotInitialized = errors.New("redis client not initialized")

// ObtainLock takes a non-blocking distributed lock on key. The returned func
// releases it.
func ObtainLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if client == nil {
		return nil, ErrNotInitialized
	}
	lock, err := redislock.New(client).Obtain(ctx, key, ttl, nil)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
