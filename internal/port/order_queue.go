package port

import (
	"context"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

// OrderQueue is consumed by a fixed group and consumer bound at construction.
type OrderQueue interface {
	// ReadNew waits up to block for entries never delivered to the group.
	// It returns an empty slice on timeout.
	ReadNew(ctx context.Context, count int64, block time.Duration) ([]domain.QueueEntry, error)

	// ReadPending returns entries delivered to this consumer but not yet
	// acknowledged, with ids strictly after the given cursor ("0" for all).
	ReadPending(ctx context.Context, after string, count int64) ([]domain.QueueEntry, error)

	// Ack marks an entry complete within the group
	Ack(ctx context.Context, entryID string) error
}
