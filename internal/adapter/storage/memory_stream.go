package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/seckill/internal/core/domain"
)

// MemoryStream is an in-process OrderQueue with the delivery rules of a
// Redis stream read by one consumer group with one consumer.
type MemoryStream struct {
	mu        sync.Mutex
	entries   []domain.QueueEntry // entry with sequence n lives at index n-1
	delivered int
	pending   map[int64]struct{}
	wake      chan struct{}
}

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		pending: make(map[int64]struct{}),
		wake:    make(chan struct{}),
	}
}

// Append adds an entry and returns its id.
func (s *MemoryStream) Append(values map[string]string) string {
	return s.append(values)
}

func (s *MemoryStream) append(values map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("%d-0", len(s.entries)+1)
	s.entries = append(s.entries, domain.QueueEntry{ID: id, Values: values})

	close(s.wake)
	s.wake = make(chan struct{})
	return id
}

func (s *MemoryStream) ReadNew(ctx context.Context, count int64, block time.Duration) ([]domain.QueueEntry, error) {
	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		s.mu.Lock()
		if s.delivered < len(s.entries) {
			end := len(s.entries)
			if count > 0 && s.delivered+int(count) < end {
				end = s.delivered + int(count)
			}
			batch := make([]domain.QueueEntry, 0, end-s.delivered)
			for i := s.delivered; i < end; i++ {
				s.pending[int64(i+1)] = struct{}{}
				batch = append(batch, copyEntry(s.entries[i]))
			}
			s.delivered = end
			s.mu.Unlock()
			return batch, nil
		}
		wake := s.wake
		s.mu.Unlock()

		if timeout == nil {
			return nil, nil
		}
		select {
		case <-wake:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStream) ReadPending(ctx context.Context, after string, count int64) ([]domain.QueueEntry, error) {
	cursor, err := parseEntrySeq(after)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []domain.QueueEntry
	for seq := cursor + 1; seq <= int64(s.delivered); seq++ {
		if _, ok := s.pending[seq]; !ok {
			continue
		}
		batch = append(batch, copyEntry(s.entries[seq-1]))
		if count > 0 && int64(len(batch)) == count {
			break
		}
	}
	return batch, nil
}

func (s *MemoryStream) Ack(ctx context.Context, entryID string) error {
	seq, err := parseEntrySeq(entryID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seq)
	return nil
}

// Len is the number of entries ever appended.
func (s *MemoryStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PendingCount is the number of delivered but unacknowledged entries.
func (s *MemoryStream) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func parseEntrySeq(id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	ms, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id %q", id)
	}
	return seq, nil
}

func copyEntry(e domain.QueueEntry) domain.QueueEntry {
	values := make(map[string]string, len(e.Values))
	for k, v := range e.Values {
		values[k] = v
	}
	return domain.QueueEntry{ID: e.ID, Values: values}
}
