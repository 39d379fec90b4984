package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// testKeys returns a stream name and item id unique to the test, and removes
// the keys afterwards.
func testKeys(t *testing.T, client *redis.Client) (stream, itemID string) {
	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	stream = "test:stream:" + suffix
	itemID = "item-" + suffix
	t.Cleanup(func() {
		client.Del(context.Background(), stream, StockKey(itemID), BuyersKey(itemID))
	})
	return stream, itemID
}

func TestRedisAdmit_Success(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	stream, itemID := testKeys(t, client)
	adapter := NewRedisAdapter(client, stream)

	require.NoError(t, adapter.SetStock(ctx, itemID, 10))

	res, err := adapter.Admit(ctx, 42, "user-1", itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.Accepted, res)

	stock, _ := client.Get(ctx, StockKey(itemID)).Int()
	assert.Equal(t, 9, stock)

	member, _ := client.SIsMember(ctx, BuyersKey(itemID), "user-1").Result()
	assert.True(t, member)

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].Values[domain.FieldOrderID])
	assert.Equal(t, "user-1", msgs[0].Values[domain.FieldUserID])
	assert.Equal(t, itemID, msgs[0].Values[domain.FieldItemID])
}

func TestRedisAdmit_AlreadyPurchased(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	stream, itemID := testKeys(t, client)
	adapter := NewRedisAdapter(client, stream)

	require.NoError(t, adapter.SetStock(ctx, itemID, 10))

	_, err := adapter.Admit(ctx, 1, "user-1", itemID)
	require.NoError(t, err)

	res, err := adapter.Admit(ctx, 2, "user-1", itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlreadyPurchased, res)

	stock, _ := client.Get(ctx, StockKey(itemID)).Int()
	assert.Equal(t, 9, stock)
	assert.Equal(t, int64(1), client.XLen(ctx, stream).Val())
}

func TestRedisAdmit_KeyNotExists(t *testing.T) {
	client := getRedisClient(t)
	stream, itemID := testKeys(t, client)
	adapter := NewRedisAdapter(client, stream)

	res, err := adapter.Admit(context.Background(), 1, "user-1", itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutOfStock, res)
}

func TestRedisAdmit_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	stream, itemID := testKeys(t, client)
	adapter := NewRedisAdapter(client, stream)

	initialStock := 20
	totalRequests := 50
	require.NoError(t, adapter.SetStock(ctx, itemID, initialStock))

	var accepted, outOfStock atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := adapter.Admit(ctx, int64(i+1), fmt.Sprintf("user-%d", i), itemID)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			switch res {
			case domain.Accepted:
				accepted.Add(1)
			case domain.OutOfStock:
				outOfStock.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), accepted.Load())
	assert.Equal(t, int32(totalRequests-initialStock), outOfStock.Load())

	stock, _ := client.Get(ctx, StockKey(itemID)).Int()
	assert.Equal(t, 0, stock)
	assert.Equal(t, int64(initialStock), client.XLen(ctx, stream).Val())
}

func TestRedisStream_PendingAndAck(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	stream, itemID := testKeys(t, client)

	queue := NewRedisStream(client, stream, "g1", "c1")
	require.NoError(t, queue.EnsureGroup(ctx))
	require.NoError(t, queue.EnsureGroup(ctx), "second EnsureGroup must tolerate BUSYGROUP")

	adapter := NewRedisAdapter(client, stream)
	require.NoError(t, adapter.SetStock(ctx, itemID, 5))
	for i := 1; i <= 3; i++ {
		_, err := adapter.Admit(ctx, int64(i), fmt.Sprintf("user-%d", i), itemID)
		require.NoError(t, err)
	}

	entries, err := queue.ReadNew(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.NoError(t, queue.Ack(ctx, entries[0].ID))

	pending, err := queue.ReadPending(ctx, "0", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, entries[1].ID, pending[0].ID)

	after, err := queue.ReadPending(ctx, pending[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, entries[2].ID, after[0].ID)

	none, err := queue.ReadNew(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisLocker(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	locker := NewRedisLocker(client)
	key := fmt.Sprintf("order-lock:test-%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	lock, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key, 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrLockNotObtained))

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), domain.ErrLockNotHeld)

	again, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisKV_Tombstone(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	kv := NewRedisKV(client)
	key := fmt.Sprintf("test:kv:%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	_, found, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, key, "", time.Minute))
	val, found, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, val)
}
