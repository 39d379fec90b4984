package cacheaside

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/seckill/internal/port"
)

// tombstone is the value stored for a key whose record is confirmed absent.
const tombstone = ""

// Loader fetches a record from the backing store. It returns nil, nil when
// the record does not exist.
type Loader[ID any, T any] func(ctx context.Context, id ID) (*T, error)

// logicalValue is what a logically expiring key holds. The key itself has
// no physical TTL.
type logicalValue[T any] struct {
	Data     T         `json:"data"`
	ExpireAt time.Time `json:"expire_at"`
}

// Client is the read-through helper shared by the entity caches. It owns a
// fixed pool of refresh workers for logically expiring keys; Close stops it.
type Client struct {
	kv  port.KVStore
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
}

func NewClient(kv port.KVStore, cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		kv:    kv,
		cfg:   cfg,
		log:   logger.With().Str("component", "cacheaside").Logger(),
		now:   time.Now,
		tasks: make(chan func(), cfg.RefreshQueue),
	}

	for i := 0; i < cfg.RefreshWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.tasks {
				c.run(task)
			}
		}()
	}
	return c, nil
}

// Close stops accepting refreshes and waits for queued ones to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.tasks)
	c.mu.Unlock()

	c.wg.Wait()
}

// Set stores value as JSON with a physical TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, string(raw), ttl)
}

// SetWithLogicalExpire stores value without a physical TTL, stamped to go
// stale after ttl.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(logicalValue[any]{Data: value, ExpireAt: c.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, string(raw), 0)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}

// QueryWithPassThrough reads key prefix+id, loading it on a miss. A missing
// record is remembered with a tombstone for NullTTL so repeated lookups do
// not reach the loader.
func QueryWithPassThrough[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, load Loader[ID, T], ttl time.Duration) (*T, error) {
	key := keyPrefix + fmt.Sprint(id)

	raw, found, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if found {
		if raw == tombstone {
			return nil, nil
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return &v, nil
	}

	v, err := load(ctx, id)
	if err != nil {
		return nil, err
	}

	if v == nil {
		if err := c.kv.Set(ctx, key, tombstone, c.cfg.NullTTL); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("write tombstone failed")
		}
		return nil, nil
	}

	if err := c.Set(ctx, key, v, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("write cache failed")
	}
	return v, nil
}

// QueryWithLogicalExpire never waits for the loader. A cold key reads as not
// found; an expired key returns its stale value while at most one refresh
// per key reloads it in the background.
func QueryWithLogicalExpire[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, load Loader[ID, T], ttl time.Duration) (*T, error) {
	key := keyPrefix + fmt.Sprint(id)

	cached, err := getLogical[T](ctx, c, key)
	if err != nil || cached == nil {
		return nil, err
	}
	if cached.ExpireAt.After(c.now()) {
		return &cached.Data, nil
	}

	lockKey := c.cfg.LockPrefix + key
	ok, err := c.kv.SetNX(ctx, lockKey, "1", c.cfg.LockTTL)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("acquire refresh lock failed")
		return &cached.Data, nil
	}
	if !ok {
		return &cached.Data, nil
	}

	// Another refresher may have finished between the read and the lock.
	if fresh, err := getLogical[T](ctx, c, key); err == nil && fresh != nil && fresh.ExpireAt.After(c.now()) {
		c.unlock(lockKey)
		return &fresh.Data, nil
	}

	submitted := c.submit(func() {
		defer c.unlock(lockKey)

		rctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()

		v, err := load(rctx, id)
		if err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("refresh load failed")
			return
		}
		if v == nil {
			if err := c.kv.Delete(rctx, key); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("drop vanished record failed")
			}
			return
		}
		if err := c.SetWithLogicalExpire(rctx, key, v, ttl); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("refresh write failed")
		}
	})
	if !submitted {
		c.unlock(lockKey)
		c.log.Warn().Str("key", key).Msg("refresh pool saturated, serving stale value")
	}

	return &cached.Data, nil
}

func getLogical[T any](ctx context.Context, c *Client, key string) (*logicalValue[T], error) {
	raw, found, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !found || raw == tombstone {
		return nil, nil
	}

	var v logicalValue[T]
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (c *Client) submit(task func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.tasks <- task:
		return true
	default:
		return false
	}
}

func (c *Client) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("refresh task panicked")
		}
	}()
	task()
}

func (c *Client) unlock(lockKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()
	if err := c.kv.Delete(ctx, lockKey); err != nil {
		c.log.Warn().Err(err).Str("key", lockKey).Msg("release refresh lock failed")
	}
}
