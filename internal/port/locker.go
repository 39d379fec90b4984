package port

import (
	"context"
	"time"
)

// Locker hands out non-reentrant, TTL-bounded locks. Obtain never waits; it
// returns domain.ErrLockNotObtained when the key is already held.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Key() string
	// Release deletes the lock only if it is still owned by this holder
	Release(ctx context.Context) error
}
