package port

import (
	"context"
	"time"
)

// KVStore is the string store behind the cache-aside client. A zero ttl
// means the key never expires.
type KVStore interface {
	// Get reports found=false for an absent key. An empty value is a
	// present key.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Counter is an externally atomic increment.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}
