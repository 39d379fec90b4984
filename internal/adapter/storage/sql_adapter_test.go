package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/core/domain"
)

func getSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seckill.db")

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_txlock=immediate")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewSQLAdapter(db).Migrate(context.Background()))
	return db
}

func getMySQLDB(t *testing.T) *sql.DB {
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

	require.NoError(t, NewSQLAdapter(db).Migrate(context.Background()))
	return db
}

func seedItem(t *testing.T, adapter *SQLAdapter, id string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	err := adapter.CreateItem(context.Background(), domain.Item{
		ID:      id,
		Name:    "test " + id,
		Stock:   stock,
		BeginAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
	})
	require.NoError(t, err)
}

func newOrder(seq int64, userID, itemID string) domain.Order {
	id := domain.ComposeID(time.Now(), domain.DefaultEpoch, seq)
	return domain.Order{
		ID:        id,
		UserID:    userID,
		ItemID:    itemID,
		CreatedAt: domain.OrderTime(id, domain.DefaultEpoch),
	}
}

func itemStock(t *testing.T, db *sql.DB, itemID string) int {
	t.Helper()
	var stock int
	require.NoError(t, db.QueryRow(`SELECT stock FROM items WHERE id = ?`, itemID).Scan(&stock))
	return stock
}

func TestCreateOrder_Success(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "test-item", 100)

	res, err := adapter.CreateOrder(ctx, newOrder(1, "test-user", "test-item"))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistCreated, res)

	count, err := adapter.CountOrders(ctx, "test-item")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 99, itemStock(t, db, "test-item"))
}

func TestCreateOrder_Redelivery(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "test-item", 10)

	order := newOrder(1, "test-user", "test-item")

	res, err := adapter.CreateOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, domain.PersistCreated, res)

	res, err = adapter.CreateOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, domain.PersistDuplicate, res)

	count, err := adapter.CountOrders(ctx, "test-item")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 9, itemStock(t, db, "test-item"))
}

func TestCreateOrder_SameUserDifferentOrderID(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "test-item", 10)

	_, err := adapter.CreateOrder(ctx, newOrder(1, "test-user", "test-item"))
	require.NoError(t, err)

	res, err := adapter.CreateOrder(ctx, newOrder(2, "test-user", "test-item"))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistDuplicate, res)
	assert.Equal(t, 9, itemStock(t, db, "test-item"))
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "empty-item", 0)

	res, err := adapter.CreateOrder(ctx, newOrder(1, "test-user", "empty-item"))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistOutOfStock, res)

	count, err := adapter.CountOrders(ctx, "empty-item")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 0, itemStock(t, db, "empty-item"))
}

func TestCreateOrder_UnknownItem(t *testing.T) {
	db := getSQLiteDB(t)
	adapter := NewSQLAdapter(db)

	res, err := adapter.CreateOrder(context.Background(), newOrder(1, "test-user", "missing"))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistOutOfStock, res)
}

func TestCreateOrder_ConcurrentNeverOversells(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "hot-item", 5)

	var wg sync.WaitGroup
	results := make([]domain.PersistResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := adapter.CreateOrder(ctx, newOrder(int64(i+1), "user-"+string(rune('a'+i)), "hot-item"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		if r == domain.PersistCreated {
			created++
		}
	}
	assert.Equal(t, 5, created)
	assert.Equal(t, 0, itemStock(t, db, "hot-item"))
}

func TestGetItem(t *testing.T) {
	db := getSQLiteDB(t)
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "get-test-item", 50)

	item, err := adapter.GetItem(context.Background(), "get-test-item")
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Equal(t, "get-test-item", item.ID)
	assert.Equal(t, 50, item.Stock)
	assert.True(t, item.OnSale(time.Now()))
}

func TestGetItem_NotFound(t *testing.T) {
	db := getSQLiteDB(t)
	adapter := NewSQLAdapter(db)

	item, err := adapter.GetItem(context.Background(), "nonexistent-item")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestUpdateItem(t *testing.T) {
	db := getSQLiteDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)
	seedItem(t, adapter, "update-item", 10)

	item, err := adapter.GetItem(ctx, "update-item")
	require.NoError(t, err)

	item.Name = "renamed"
	item.Stock = 20
	require.NoError(t, adapter.UpdateItem(ctx, *item))

	got, err := adapter.GetItem(ctx, "update-item")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 20, got.Stock)

	err = adapter.UpdateItem(ctx, domain.Item{ID: "missing"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestMySQLCreateOrder(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewSQLAdapter(db)

	itemID := "mysql-item-" + time.Now().Format("20060102150405.000")
	seedItem(t, adapter, itemID, 1)
	defer db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID)
	defer db.ExecContext(ctx, `DELETE FROM orders WHERE item_id = ?`, itemID)

	res, err := adapter.CreateOrder(ctx, newOrder(1, "user-a", itemID))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistCreated, res)

	res, err = adapter.CreateOrder(ctx, newOrder(2, "user-b", itemID))
	require.NoError(t, err)
	assert.Equal(t, domain.PersistOutOfStock, res)

	count, err := adapter.CountOrders(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
