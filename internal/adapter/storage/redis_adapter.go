package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/core/domain"
)

var admissionScript = redis.NewScript(admissionScriptSource)

// RedisAdapter is the admission gate and stock seeder backed by Redis. The
// stream it appends to must be the one RedisStream consumes.
type RedisAdapter struct {
	client redis.UniversalClient
	stream string
}

func NewRedisAdapter(client redis.UniversalClient, stream string) *RedisAdapter {
	return &RedisAdapter{client: client, stream: stream}
}

func (r *RedisAdapter) Admit(ctx context.Context, orderID int64, userID, itemID string) (domain.AdmissionResult, error) {
	keys := []string{StockKey(itemID), BuyersKey(itemID), r.stream}

	result, err := admissionScript.Run(ctx, r.client, keys, orderID, userID, itemID).Int()
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}

	switch res := domain.AdmissionResult(result); res {
	case domain.Accepted, domain.OutOfStock, domain.AlreadyPurchased:
		return res, nil
	default:
		return 0, fmt.Errorf("admission script returned %d", result)
	}
}

func (r *RedisAdapter) SetStock(ctx context.Context, itemID string, stock int) error {
	return r.client.Set(ctx, StockKey(itemID), stock, 0).Err()
}

// Incr implements port.Counter for the id generator.
func (r *RedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}
