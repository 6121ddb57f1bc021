package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PrizePool/internal/core"
	"PrizePool/internal/observability"
	"PrizePool/internal/pool"
)

// Worker drains the persist channel and batch-writes to Postgres.
// The persist channel uses BLOCKING sends from the engine, so if this worker
// falls behind, the engine stalls — guaranteeing no committed operation is
// ever lost from the log.
type Worker struct {
	writer       *StateWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// batch accumulates one flush worth of work: the ordered event rows plus the
// collapsed end-of-batch view of the state tables.
type batch struct {
	events   []EventRow
	written  map[string]pool.Reservation
	removed  map[string]bool
	poolRow  PoolRow
	hasState bool
}

func newBatch(capacity int) *batch {
	return &batch{
		events:  make([]EventRow, 0, capacity),
		written: make(map[string]pool.Reservation),
		removed: make(map[string]bool),
	}
}

func (b *batch) add(out core.Output) {
	env := out.Envelope
	b.events = append(b.events, EventRow{
		Sequence:  env.Sequence,
		OpType:    env.OpType.String(),
		RequestID: env.RequestID.String(),
		GameID:    env.GameID,
		Payload:   MarshalPayload(env.Notification),
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: env.Timestamp,
	})

	// Collapse per-game deltas: only the last write or delete in the batch
	// matters for the derived tables.
	for _, r := range out.Written {
		delete(b.removed, r.GameID)
		b.written[r.GameID] = r
	}
	for _, gameID := range out.Removed {
		delete(b.written, gameID)
		b.removed[gameID] = true
	}

	b.poolRow = PoolRow{
		Admin:         out.Pool.Admin.String(),
		Asset:         out.Pool.Asset,
		Available:     out.Pool.Available,
		TotalReserved: out.Pool.TotalReserved,
		Inflow:        out.Pool.Inflow,
		Outflow:       out.Pool.Outflow,
		Sequence:      env.Sequence,
	}
	b.hasState = true
}

func (b *batch) reset() {
	b.events = b.events[:0]
	for k := range b.written {
		delete(b.written, k)
	}
	for k := range b.removed {
		delete(b.removed, k)
	}
	b.hasState = false
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	reservationHorizon time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewStateWriter(db, reservationHorizon),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming outputs and flushes either
// when the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	b := newBatch(w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := w.flush(context.Background(), b); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := w.flush(context.Background(), b); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			b.add(out)

			if len(b.events) >= w.batchSize {
				if err := w.flushWithRetry(ctx, b); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := w.flushWithRetry(ctx, b); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it keeps retrying until the write succeeds or shutdown forces one
// final attempt.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(b.events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if finalErr := w.flush(context.Background(), b); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

// flush writes the event rows, the pool counters, and the reservation deltas
// in a single transaction.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if b.hasState {
		if err := w.writer.WritePoolState(ctx, tx, b.poolRow); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_pool").Inc()
			}
			return err
		}
	}

	written := make([]pool.Reservation, 0, len(b.written))
	for _, r := range b.written {
		written = append(written, r)
	}
	removed := make([]string, 0, len(b.removed))
	for gameID := range b.removed {
		removed = append(removed, gameID)
	}
	if err := w.writer.WriteReservations(ctx, tx, written, removed); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_reservations").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		w.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		w.metrics.PersistLastSequence.Set(float64(b.poolRow.Sequence))
	}

	return nil
}
