package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

var (
	ErrAlreadyPurchased  = errors.New("already purchased")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSaleNotStarted    = errors.New("sale not started")
	ErrSaleEnded         = errors.New("sale ended")
	ErrItemNotFound      = domain.ErrItemNotFound
)

// OrderIDNamespace is the counter namespace for order ids.
const OrderIDNamespace = "icr:order"

// ItemReader looks up sale windows. ItemService satisfies it through the cache.
type ItemReader interface {
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
}

type OrderService struct {
	cache port.CacheRepository
	ids   *IDGenerator
	items ItemReader
	now   func() time.Time
	log   zerolog.Logger
}

// NewOrderService wires the admission path. items may be nil, in which case
// the sale window is not checked.
func NewOrderService(cache port.CacheRepository, ids *IDGenerator, items ItemReader, logger zerolog.Logger) *OrderService {
	return &OrderService{
		cache: cache,
		ids:   ids,
		items: items,
		now:   time.Now,
		log:   logger.With().Str("component", "order_service").Logger(),
	}
}

// Purchase admits one order for userID and returns its id. The order is
// persisted asynchronously by OrderWorker; a nil error means the queue entry
// already exists.
func (s *OrderService) Purchase(ctx context.Context, userID, itemID string) (int64, error) {
	if s.items != nil {
		if err := s.checkSaleWindow(ctx, itemID); err != nil {
			return 0, err
		}
	}

	orderID, err := s.ids.NextID(ctx, OrderIDNamespace)
	if err != nil {
		return 0, fmt.Errorf("generate order id: %w", err)
	}

	res, err := s.cache.Admit(ctx, orderID, userID, itemID)
	if err != nil {
		return 0, fmt.Errorf("admission failed: %w", err)
	}

	switch res {
	case domain.Accepted:
		s.log.Debug().Int64("order_id", orderID).Str("user_id", userID).Str("item_id", itemID).Msg("order admitted")
		return orderID, nil
	case domain.OutOfStock:
		return 0, ErrInsufficientStock
	case domain.AlreadyPurchased:
		return 0, ErrAlreadyPurchased
	default:
		return 0, fmt.Errorf("unexpected admission result %s", res)
	}
}

func (s *OrderService) checkSaleWindow(ctx context.Context, itemID string) error {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return ErrItemNotFound
	}

	now := s.now()
	if item.OnSale(now) {
		return nil
	}
	if now.Before(item.BeginAt) {
		return ErrSaleNotStarted
	}
	return ErrSaleEnded
}
