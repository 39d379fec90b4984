package port

import (
	"context"

	"github.com/rl1809/seckill/internal/core/domain"
)

type CacheRepository interface {
	// Admit runs the stock check, stock decrement, purchase membership update
	// and queue append as one indivisible step.
	Admit(ctx context.Context, orderID int64, userID, itemID string) (domain.AdmissionResult, error)

	// SetStock seeds the cache-side stock counter for an item
	SetStock(ctx context.Context, itemID string, stock int) error
}
