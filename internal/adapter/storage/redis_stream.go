package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/core/domain"
)

// RedisStream is an OrderQueue over a Redis stream with a single consumer
// group and consumer name.
type RedisStream struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string
}

func NewRedisStream(client redis.UniversalClient, stream, group, consumer string) *RedisStream {
	return &RedisStream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// EnsureGroup creates the stream and its consumer group if they are missing.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", s.group, err)
	}
	return nil
}

func (s *RedisStream) ReadNew(ctx context.Context, count int64, block time.Duration) ([]domain.QueueEntry, error) {
	return s.read(ctx, ">", count, block)
}

func (s *RedisStream) ReadPending(ctx context.Context, after string, count int64) ([]domain.QueueEntry, error) {
	if after == "" {
		after = "0"
	}
	// Block is ignored by Redis for explicit ids; -1 leaves it off the command.
	return s.read(ctx, after, count, -1)
}

func (s *RedisStream) Ack(ctx context.Context, entryID string) error {
	return s.client.XAck(ctx, s.stream, s.group, entryID).Err()
}

func (s *RedisStream) read(ctx context.Context, id string, count int64, block time.Duration) ([]domain.QueueEntry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s: %w", s.stream, id, err)
	}

	var entries []domain.QueueEntry
	for _, st := range streams {
		for _, msg := range st.Messages {
			entries = append(entries, toQueueEntry(msg))
		}
	}
	return entries, nil
}

func toQueueEntry(msg redis.XMessage) domain.QueueEntry {
	values := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		} else if v != nil {
			values[k] = fmt.Sprint(v)
		}
	}
	return domain.QueueEntry{ID: msg.ID, Values: values}
}
