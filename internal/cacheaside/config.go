package cacheaside

import (
	"fmt"
	"time"
)

// Config sizes the refresh pool and the lifetimes the client writes with.
type Config struct {
	// NullTTL is the lifetime of a tombstone written for a missing record.
	NullTTL time.Duration

	// LockTTL bounds how long a refresh lock survives a crashed refresher.
	LockTTL time.Duration

	// LockPrefix is prepended to a cache key to name its refresh lock.
	LockPrefix string

	// RefreshWorkers is the fixed number of goroutines running refreshes.
	RefreshWorkers int

	// RefreshQueue is how many refreshes may wait for a worker. A refresh
	// that does not fit is skipped and the stale value keeps being served.
	RefreshQueue int

	// RefreshTimeout bounds one reload from the backing store.
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		NullTTL:        2 * time.Minute,
		LockTTL:        10 * time.Second,
		LockPrefix:     "lock:",
		RefreshWorkers: 10,
		RefreshQueue:   128,
		RefreshTimeout: 5 * time.Second,
	}
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cacheaside config %s: %s", e.Field, e.Message)
}

func (c Config) Validate() error {
	if c.NullTTL <= 0 {
		return &ConfigError{Field: "NullTTL", Message: "must be greater than 0"}
	}
	if c.LockTTL <= 0 {
		return &ConfigError{Field: "LockTTL", Message: "must be greater than 0"}
	}
	if c.LockPrefix == "" {
		return &ConfigError{Field: "LockPrefix", Message: "must not be empty"}
	}
	if c.RefreshWorkers <= 0 {
		return &ConfigError{Field: "RefreshWorkers", Message: "must be greater than 0"}
	}
	if c.RefreshQueue < 0 {
		return &ConfigError{Field: "RefreshQueue", Message: "must be non-negative"}
	}
	if c.RefreshTimeout <= 0 {
		return &ConfigError{Field: "RefreshTimeout", Message: "must be greater than 0"}
	}
	return nil
}
