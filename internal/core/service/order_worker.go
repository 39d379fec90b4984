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

type WorkerConfig struct {
	// BatchSize is the most entries taken per queue read.
	BatchSize int64
	// BlockTimeout bounds the wait for new entries.
	BlockTimeout time.Duration
	// LockTTL bounds the per-user lock if the worker dies holding it.
	LockTTL time.Duration
	// PendingBackoff is the pause before retrying a failed pending scan.
	PendingBackoff time.Duration
	// PersistTimeout bounds one transactional write.
	PersistTimeout time.Duration
	// SweepInterval forces a pending scan at least this often. Zero turns
	// the periodic scan off.
	SweepInterval time.Duration
	// Epoch must match the IDGenerator that produced the order ids.
	Epoch time.Time
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:      1,
		BlockTimeout:   2 * time.Second,
		LockTTL:        10 * time.Second,
		PendingBackoff: 20 * time.Millisecond,
		PersistTimeout: 5 * time.Second,
		SweepInterval:  30 * time.Second,
		Epoch:          domain.DefaultEpoch,
	}
}

// LockKey is the per-user lock taken around persistence.
func LockKey(userID string) string {
	return "order-lock:" + userID
}

// OrderWorker is the single consumer that moves admitted orders from the
// queue into the relational store.
type OrderWorker struct {
	queue port.OrderQueue
	db    port.OrderRepository
	locks port.Locker
	cfg   WorkerConfig
	now   func() time.Time
	log   zerolog.Logger
}

func NewOrderWorker(queue port.OrderQueue, db port.OrderRepository, locks port.Locker, cfg WorkerConfig, logger zerolog.Logger) *OrderWorker {
	return &OrderWorker{
		queue: queue,
		db:    db,
		locks: locks,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.With().Str("component", "order_worker").Logger(),
	}
}

// Run consumes until ctx is cancelled. Failures never stop the loop; they
// send it to the pending list instead.
func (w *OrderWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("order worker started")
	lastSweep := w.now()

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("order worker stopped")
			return nil
		}

		needPending := false

		entries, err := w.queue.ReadNew(ctx, w.cfg.BatchSize, w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("read new entries failed")
			needPending = true
		}

		for _, entry := range entries {
			deferred, err := w.process(ctx, entry)
			if err != nil {
				w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("process entry failed")
				needPending = true
				break
			}
			if deferred {
				needPending = true
			}
		}

		if needPending || w.sweepDue(lastSweep) {
			w.handlePending(ctx)
			lastSweep = w.now()
		}
	}
}

func (w *OrderWorker) sweepDue(last time.Time) bool {
	return w.cfg.SweepInterval > 0 && w.now().Sub(last) >= w.cfg.SweepInterval
}

// handlePending replays unacknowledged entries from the start of the stream.
// The cursor only moves past entries that were handled, so a failing entry
// is retried after a backoff rather than skipped.
func (w *OrderWorker) handlePending(ctx context.Context) {
	cursor := "0"

	for ctx.Err() == nil {
		entries, err := w.queue.ReadPending(ctx, cursor, w.cfg.BatchSize)
		if err != nil {
			w.log.Error().Err(err).Msg("read pending entries failed")
			w.sleep(ctx, w.cfg.PendingBackoff)
			continue
		}
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			if _, err := w.process(ctx, entry); err != nil {
				w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("process pending entry failed")
				w.sleep(ctx, w.cfg.PendingBackoff)
				break
			}
			cursor = entry.ID
		}
	}
}

// process handles one delivery. deferred is true when the entry was left
// pending because another holder owns the user's lock.
func (w *OrderWorker) process(ctx context.Context, entry domain.QueueEntry) (deferred bool, err error) {
	order, err := domain.DecodeOrder(entry, w.cfg.Epoch)
	if err != nil {
		// It can never succeed, so acknowledge it rather than replay it forever.
		w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("dropping malformed entry")
		return false, w.ack(ctx, entry.ID)
	}

	log := w.log.With().
		Str("entry_id", entry.ID).
		Int64("order_id", order.ID).
		Str("user_id", order.UserID).
		Str("item_id", order.ItemID).
		Logger()

	lock, err := w.locks.Obtain(ctx, LockKey(order.UserID), w.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockNotObtained) {
		log.Warn().Msg("user lock held elsewhere, leaving entry pending")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer w.release(lock)

	pctx, cancel := context.WithTimeout(ctx, w.cfg.PersistTimeout)
	defer cancel()

	res, err := w.db.CreateOrder(pctx, order)
	if err != nil {
		return false, fmt.Errorf("persist order %d: %w", order.ID, err)
	}

	switch res {
	case domain.PersistCreated:
		log.Info().Msg("order persisted")
	case domain.PersistDuplicate:
		log.Info().Msg("order already persisted")
	case domain.PersistOutOfStock:
		log.Warn().Msg("order rejected at persist, stock exhausted")
	}

	return false, w.ack(ctx, entry.ID)
}

func (w *OrderWorker) ack(ctx context.Context, entryID string) error {
	if err := w.queue.Ack(ctx, entryID); err != nil {
		return fmt.Errorf("ack %s: %w", entryID, err)
	}
	return nil
}

func (w *OrderWorker) release(lock port.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := lock.Release(ctx); err != nil {
		w.log.Warn().Err(err).Str("key", lock.Key()).Msg("release lock failed")
	}
}

func (w *OrderWorker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
