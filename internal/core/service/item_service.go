package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/seckill/internal/cacheaside"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

// Pass-through and logical-expiry entries are encoded differently, so each
// read strategy owns its own key space.
const (
	ItemCachePrefix    = "cache:item:"
	HotItemCachePrefix = "cache:item-hot:"
)

// ItemService is the catalogue side of a sale: it launches items, serves
// them through the cache and invalidates the cache on writes.
type ItemService struct {
	db    port.ItemRepository
	stock port.CacheRepository
	cache *cacheaside.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewItemService(db port.ItemRepository, stock port.CacheRepository, cache *cacheaside.Client, ttl time.Duration, logger zerolog.Logger) *ItemService {
	return &ItemService{
		db:    db,
		stock: stock,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "item_service").Logger(),
	}
}

// LaunchSale stores the item and seeds the admission gate's stock counter.
func (s *ItemService) LaunchSale(ctx context.Context, item domain.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if item.Stock < 0 {
		return fmt.Errorf("item %s: negative stock %d", item.ID, item.Stock)
	}
	if !item.EndAt.After(item.BeginAt) {
		return fmt.Errorf("item %s: sale ends before it begins", item.ID)
	}

	if err := s.db.CreateItem(ctx, item); err != nil {
		return err
	}
	if err := s.stock.SetStock(ctx, item.ID, item.Stock); err != nil {
		return fmt.Errorf("seed stock for %s: %w", item.ID, err)
	}

	s.log.Info().Str("item_id", item.ID).Int("stock", item.Stock).Msg("sale launched")
	return nil
}

// GetItem reads through the cache, remembering unknown ids with a tombstone.
func (s *ItemService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return cacheaside.QueryWithPassThrough[domain.Item](ctx, s.cache, ItemCachePrefix, itemID, s.db.GetItem, s.ttl)
}

// GetHotItem serves a pre-warmed item and refreshes it in the background
// once it goes stale. A cold item reads as not found.
func (s *ItemService) GetHotItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return cacheaside.QueryWithLogicalExpire[domain.Item](ctx, s.cache, HotItemCachePrefix, itemID, s.db.GetItem, s.ttl)
}

// WarmHotItem loads an item and writes it with a logical expiry so that
// GetHotItem can serve it.
func (s *ItemService) WarmHotItem(ctx context.Context, itemID string, ttl time.Duration) error {
	item, err := s.db.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	return s.cache.SetWithLogicalExpire(ctx, HotItemCachePrefix+itemID, item, ttl)
}

// UpdateItem writes the store first and then drops both cached copies. A hot
// item must be warmed again afterwards.
func (s *ItemService) UpdateItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if err := s.db.UpdateItem(ctx, item); err != nil {
		return err
	}
	for _, key := range []string{ItemCachePrefix + item.ID, HotItemCachePrefix + item.ID} {
		if err := s.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate item %s: %w", item.ID, err)
		}
	}
	return nil
}
