package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

//go:embed schema.sql
var schemaSQL string

// SQLAdapter is the relational store over database/sql. The statements use
// '?' placeholders and run unchanged on MySQL and SQLite.
type SQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, now: time.Now}
}

// Migrate creates the items and orders tables if they do not exist.
func (m *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.PersistResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id = ? AND item_id = ?`,
		order.UserID, order.ItemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		return domain.PersistDuplicate, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - 1, updated_at = ?
		WHERE id = ? AND stock > 0`,
		m.now().UTC(), order.ItemID,
	)
	if err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}
	if rows == 0 {
		return domain.PersistOutOfStock, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, item_id, created_at)
		VALUES (?, ?, ?, ?)`,
		order.ID, order.UserID, order.ItemID, order.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return domain.PersistCreated, nil
}

func (m *SQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, stock, begin_at, end_at, created_at, updated_at
		FROM items WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Stock, &item.BeginAt, &item.EndAt, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (m *SQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	now := m.now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (id, name, stock, begin_at, end_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Stock, item.BeginAt.UTC(), item.EndAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (m *SQLAdapter) UpdateItem(ctx context.Context, item domain.Item) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE items
		SET name = ?, stock = ?, begin_at = ?, end_at = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.Stock, item.BeginAt.UTC(), item.EndAt.UTC(), m.now().UTC(), item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// CountOrders returns how many orders exist for an item.
func (m *SQLAdapter) CountOrders(ctx context.Context, itemID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE item_id = ?`, itemID).Scan(&n)
	return n, err
}
