package port

import (
	"context"

	"github.com/rl1809/seckill/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists an admitted order in one transaction. It is
	// idempotent per (user, item) and never drives stock below zero.
	CreateOrder(ctx context.Context, order domain.Order) (domain.PersistResult, error)
}

type ItemRepository interface {
	// GetItem returns nil, nil when the item does not exist
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)

	CreateItem(ctx context.Context, item domain.Item) error

	UpdateItem(ctx context.Context, item domain.Item) error
}

type DatabaseRepository interface {
	OrderRepository
	ItemRepository
}
