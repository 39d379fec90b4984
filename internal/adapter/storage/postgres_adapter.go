package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/seckill/internal/core/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	stock INTEGER NOT NULL,
	begin_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id BIGINT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_orders_user_item UNIQUE (user_id, item_id)
);
`

// PostgresAdapter is the relational store on a pgx pool.
type PostgresAdapter struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresPool parses the DSN, applies the pool size and pings.
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool, now: time.Now}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.PersistResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND item_id = $2`,
		order.UserID, order.ItemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		return domain.PersistDuplicate, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE items
		SET stock = stock - 1, updated_at = $1
		WHERE id = $2 AND stock > 0`,
		p.now().UTC(), order.ItemID,
	)
	if err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.PersistOutOfStock, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, item_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		order.ID, order.UserID, order.ItemID, order.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return domain.PersistCreated, nil
}

func (p *PostgresAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, stock, begin_at, end_at, created_at, updated_at
		FROM items WHERE id = $1`, itemID,
	).Scan(&item.ID, &item.Name, &item.Stock, &item.BeginAt, &item.EndAt, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (p *PostgresAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	now := p.now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO items (id, name, stock, begin_at, end_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.Name, item.Stock, item.BeginAt.UTC(), item.EndAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) UpdateItem(ctx context.Context, item domain.Item) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE items
		SET name = $1, stock = $2, begin_at = $3, end_at = $4, updated_at = $5
		WHERE id = $6`,
		item.Name, item.Stock, item.BeginAt.UTC(), item.EndAt.UTC(), p.now().UTC(), item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}
