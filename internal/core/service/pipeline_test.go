package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/port"
)

type pipeline struct {
	cache  port.CacheRepository
	ids    *service.IDGenerator
	queue  port.OrderQueue
	locks  port.Locker
	sqlDB  *sql.DB
	store  *storage.SQLAdapter
	itemID string
}

func newMemoryPipeline(t *testing.T) *pipeline {
	t.Helper()

	mem, err := storage.NewMemoryAdapter("stream.orders")
	require.NoError(t, err)
	t.Cleanup(mem.Close)

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "seckill.db")+"?_busy_timeout=5000&_txlock=immediate")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLAdapter(db)
	require.NoError(t, store.Migrate(context.Background()))

	return &pipeline{
		cache:  mem,
		ids:    service.NewIDGenerator(mem, domain.DefaultEpoch),
		queue:  mem.Stream("stream.orders"),
		locks:  mem,
		sqlDB:  db,
		store:  store,
		itemID: "item-1",
	}
}

func newRedisMySQLPipeline(t *testing.T) *pipeline {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/seckill?parseTime=true&clientFoundRows=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLAdapter(db)
	require.NoError(t, store.Migrate(context.Background()))

	suffix := uuid.NewString()
	streamName := "test:stream:" + suffix
	itemID := "item-" + suffix

	stream := storage.NewRedisStream(rdb, streamName, "g1", "c1")
	require.NoError(t, stream.EnsureGroup(context.Background()))

	t.Cleanup(func() {
		ctx := context.Background()
		rdb.Del(ctx, streamName, storage.StockKey(itemID), storage.BuyersKey(itemID))
		db.ExecContext(ctx, `DELETE FROM orders WHERE item_id = ?`, itemID)
		db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID)
	})

	adapter := storage.NewRedisAdapter(rdb, streamName)
	return &pipeline{
		cache:  adapter,
		ids:    service.NewIDGenerator(adapter, domain.DefaultEpoch),
		queue:  stream,
		locks:  storage.NewRedisLocker(rdb),
		sqlDB:  db,
		store:  store,
		itemID: itemID,
	}
}

// launch seeds both the relational row and the admission stock, then starts
// the worker for the rest of the test.
func (p *pipeline) launch(t *testing.T, stock int) *service.OrderService {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.store.CreateItem(ctx, domain.Item{
		ID:      p.itemID,
		Name:    "flash item",
		Stock:   stock,
		BeginAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
	}))
	require.NoError(t, p.cache.SetStock(ctx, p.itemID, stock))

	cfg := service.DefaultWorkerConfig()
	cfg.BatchSize = 10
	cfg.BlockTimeout = 50 * time.Millisecond
	cfg.PendingBackoff = 5 * time.Millisecond

	worker := service.NewOrderWorker(p.queue, p.store, p.locks, cfg, zerolog.Nop())
	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(wctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return service.NewOrderService(p.cache, p.ids, nil, zerolog.Nop())
}

func (p *pipeline) waitForOrders(t *testing.T, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		n, err := p.store.CountOrders(context.Background(), p.itemID)
		return err == nil && n == want
	}, 5*time.Second, 20*time.Millisecond)
}

func (p *pipeline) itemStock(t *testing.T) int {
	t.Helper()
	item, err := p.store.GetItem(context.Background(), p.itemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.Stock
}

func runSequentialScenario(t *testing.T, p *pipeline) {
	svc := p.launch(t, 3)
	ctx := context.Background()

	for _, user := range []string{"A", "B", "C"} {
		_, err := svc.Purchase(ctx, user, p.itemID)
		require.NoError(t, err, "user %s", user)
	}

	_, err := svc.Purchase(ctx, "D", p.itemID)
	assert.ErrorIs(t, err, service.ErrInsufficientStock)

	_, err = svc.Purchase(ctx, "A", p.itemID)
	assert.ErrorIs(t, err, service.ErrAlreadyPurchased)

	p.waitForOrders(t, 3)
	assert.Equal(t, 0, p.itemStock(t))
}

func runConcurrentScenario(t *testing.T, p *pipeline) {
	const stock, users = 25, 200
	svc := p.launch(t, stock)
	ctx := context.Background()

	var accepted, soldOut atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Purchase(ctx, fmt.Sprintf("user-%d", n), p.itemID)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				soldOut.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(stock), accepted.Load())
	assert.Equal(t, int32(users-stock), soldOut.Load())

	p.waitForOrders(t, stock)
	assert.Equal(t, 0, p.itemStock(t))
}

func TestPipeline_Memory_Sequential(t *testing.T) {
	runSequentialScenario(t, newMemoryPipeline(t))
}

func TestPipeline_Memory_Concurrent(t *testing.T) {
	runConcurrentScenario(t, newMemoryPipeline(t))
}

func TestPipeline_RedisMySQL_Sequential(t *testing.T) {
	runSequentialScenario(t, newRedisMySQLPipeline(t))
}

func TestPipeline_RedisMySQL_Concurrent(t *testing.T) {
	runConcurrentScenario(t, newRedisMySQLPipeline(t))
}
