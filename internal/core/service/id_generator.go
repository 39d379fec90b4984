package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

// IDGenerator builds roughly time-ordered 64-bit ids: seconds since the
// epoch in the high bits and a per-namespace, per-day counter in the low 32.
// Ids are unique while the counter only moves forward; they are not
// strictly monotonic across day boundaries.
type IDGenerator struct {
	counter port.Counter
	epoch   time.Time
	now     func() time.Time
}

func NewIDGenerator(counter port.Counter, epoch time.Time) *IDGenerator {
	return &IDGenerator{counter: counter, epoch: epoch, now: time.Now}
}

func (g *IDGenerator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := g.now().UTC()
	if now.Before(g.epoch) {
		return 0, fmt.Errorf("clock %s is before id epoch %s", now.Format(time.RFC3339), g.epoch.Format(time.RFC3339))
	}

	seq, err := g.counter.Incr(ctx, CounterKey(namespace, now))
	if err != nil {
		return 0, fmt.Errorf("increment %s counter: %w", namespace, err)
	}
	return domain.ComposeID(now, g.epoch, seq), nil
}

// CounterKey is the day-scoped counter for a namespace.
func CounterKey(namespace string, day time.Time) string {
	return namespace + ":" + day.UTC().Format("2006-01-02")
}
