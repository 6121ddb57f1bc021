package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"PrizePool/internal/event"
	"PrizePool/internal/gateway"
	"PrizePool/internal/observability"
	"PrizePool/internal/pool"
)

// Engine executes pool operations as atomic state transitions. Each call
// runs to completion under a single mutex: validate preconditions, commit
// all local accounting mutations, invoke the token gateway (Fund and Payout
// only), then emit the notification. Local state is committed BEFORE the
// external transfer, so a reentrant call arriving through the gateway
// observes already-decremented balances and cannot claim the same reserved
// funds twice. A failed transfer restores the pre-operation checkpoint,
// making every operation all-or-nothing.
type Engine struct {
	mu sync.Mutex

	ledger    *pool.Ledger
	table     *pool.ReservationTable
	validator *pool.Validator
	hasher    *StateHasher
	dedup     *RequestDeduper

	auth   gateway.AuthGate
	tokens gateway.TokenGateway

	// poolAccount is the custodial account on the token service that holds
	// the pool's external asset balance.
	poolAccount uuid.UUID

	sequence int64

	persistChan chan<- Output
	publishChan chan<- Output

	metrics *observability.Metrics
}

// Output is the unit emitted to the persistence and publish channels after
// an operation commits. Written and Removed tell the storage worker which
// reservation rows this operation touched.
type Output struct {
	Envelope *event.Envelope
	Pool     pool.Ledger
	Written  []pool.Reservation
	Removed  []string
}

// Status is the read-only view returned by Query.
type Status struct {
	Available    int64 `json:"available"`
	Reserved     int64 `json:"reserved"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

func NewEngine(
	startSequence int64,
	poolAccount uuid.UUID,
	auth gateway.AuthGate,
	tokens gateway.TokenGateway,
	persistChan, publishChan chan<- Output,
	dbChecker DBRequestChecker,
	dedupCapacity int,
	metrics *observability.Metrics,
) *Engine {
	ledger := pool.NewLedger()
	table := pool.NewReservationTable()

	return &Engine{
		ledger:      ledger,
		table:       table,
		validator:   pool.NewValidator(ledger, table),
		hasher:      NewStateHasher(),
		dedup:       NewRequestDeduper(dedupCapacity, dbChecker),
		auth:        auth,
		tokens:      tokens,
		poolAccount: poolAccount,
		sequence:    startSequence,
		persistChan: persistChan,
		publishChan: publishChan,
		metrics:     metrics,
	}
}

// Init configures the pool exactly once.
func (e *Engine) Init(requestID, admin uuid.UUID, asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.OpTypeInitialized
	if dup, tier := e.dedup.IsDuplicate(op.String(), requestID.String()); dup {
		e.duplicate(op, tier)
		return nil
	}

	start := time.Now()
	if err := e.ledger.Initialize(admin, asset); err != nil {
		e.reject(op, err)
		return err
	}

	e.commit(requestID, &event.Initialized{Admin: admin, Asset: asset}, nil, nil)
	e.applied(op, start)
	return nil
}

// Fund credits amount to the pool's available balance and pulls the asset
// from the caller's account into the pool account. Not admin-gated.
func (e *Engine) Fund(ctx context.Context, requestID, from uuid.UUID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.OpTypeFunded
	if dup, tier := e.dedup.IsDuplicate(op.String(), requestID.String()); dup {
		e.duplicate(op, tier)
		return nil
	}

	start := time.Now()
	if amount <= 0 {
		e.reject(op, pool.ErrInvalidAmount)
		return pool.ErrInvalidAmount
	}
	if !e.ledger.Initialized() {
		e.reject(op, pool.ErrNotInitialized)
		return pool.ErrNotInitialized
	}
	if err := e.auth.Authorize(from); err != nil {
		e.reject(op, err)
		return err
	}

	checkpoint := e.ledger.Snapshot()
	if err := e.ledger.Credit(amount); err != nil {
		e.reject(op, err)
		return err
	}

	// State is committed; only now cross the trust boundary.
	if err := e.tokens.Transfer(ctx, from, e.poolAccount, amount); err != nil {
		e.ledger.Restore(checkpoint)
		e.transferFailed(op)
		return fmt.Errorf("fund transfer aborted: %w", err)
	}

	e.commit(requestID, &event.Funded{From: from, Amount: amount}, nil, nil)
	e.applied(op, start)
	return nil
}

// Reserve earmarks amount from available funds for a game. Admin-gated.
func (e *Engine) Reserve(requestID, caller uuid.UUID, gameID string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.OpTypeReserved
	if dup, tier := e.dedup.IsDuplicate(op.String(), requestID.String()); dup {
		e.duplicate(op, tier)
		return nil
	}

	start := time.Now()
	if err := e.requireAdmin(caller); err != nil {
		e.reject(op, err)
		return err
	}
	if amount <= 0 {
		e.reject(op, pool.ErrInvalidAmount)
		return pool.ErrInvalidAmount
	}
	if _, exists := e.table.Get(gameID); exists {
		e.reject(op, pool.ErrGameAlreadyReserved)
		return pool.ErrGameAlreadyReserved
	}
	checkpoint := e.ledger.Snapshot()
	if err := e.ledger.Earmark(amount); err != nil {
		e.reject(op, err)
		return err
	}
	if err := e.table.Create(gameID, amount); err != nil {
		// Unreachable after the existence check above; restore and surface.
		e.ledger.Restore(checkpoint)
		e.reject(op, err)
		return err
	}

	written := []pool.Reservation{{GameID: gameID, Total: amount, Remaining: amount}}
	e.commit(requestID, &event.Reserved{Game: gameID, Amount: amount}, written, nil)
	e.applied(op, start)
	return nil
}

// Release returns amount from a game's reservation to available funds.
// Admin-gated. A partial release leaves the reservation active.
func (e *Engine) Release(requestID, caller uuid.UUID, gameID string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.OpTypeReleased
	if dup, tier := e.dedup.IsDuplicate(op.String(), requestID.String()); dup {
		e.duplicate(op, tier)
		return nil
	}

	start := time.Now()
	if err := e.requireAdmin(caller); err != nil {
		e.reject(op, err)
		return err
	}
	if amount <= 0 {
		e.reject(op, pool.ErrInvalidAmount)
		return pool.ErrInvalidAmount
	}
	if err := e.table.Consume(gameID, amount); err != nil {
		e.reject(op, err)
		return err
	}
	if err := e.ledger.ReturnToAvailable(amount); err != nil {
		// Cannot overflow in practice: amount was previously subtracted
		// from Available. Treat as corruption.
		panic(fmt.Sprintf("FATAL: release accounting failed: %v", err))
	}

	written, removed := e.reservationDelta(gameID)
	e.commit(requestID, &event.Released{Game: gameID, Amount: amount}, written, removed)
	e.applied(op, start)
	return nil
}

// Payout settles amount from a game's reservation to a winner. Admin-gated.
// All local accounting mutations (remaining, total_reserved, reservation
// deletion) are committed before the token gateway is invoked; a failed
// transfer restores the checkpoint. Multiple payouts against the same game
// are valid and enable multi-winner settlement.
func (e *Engine) Payout(ctx context.Context, requestID, caller, to uuid.UUID, gameID string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.OpTypePaidOut
	if dup, tier := e.dedup.IsDuplicate(op.String(), requestID.String()); dup {
		e.duplicate(op, tier)
		return nil
	}

	start := time.Now()
	if err := e.requireAdmin(caller); err != nil {
		e.reject(op, err)
		return err
	}
	if amount <= 0 {
		e.reject(op, pool.ErrInvalidAmount)
		return pool.ErrInvalidAmount
	}

	ledgerCheckpoint := e.ledger.Snapshot()
	entryCheckpoint := e.table.CheckpointEntry(gameID)

	if err := e.table.Consume(gameID, amount); err != nil {
		e.reject(op, err)
		return err
	}
	if err := e.ledger.Settle(amount); err != nil {
		e.table.Restore(gameID, entryCheckpoint)
		e.reject(op, err)
		return err
	}

	// State is committed; only now cross the trust boundary.
	if err := e.tokens.Transfer(ctx, e.poolAccount, to, amount); err != nil {
		e.ledger.Restore(ledgerCheckpoint)
		e.table.Restore(gameID, entryCheckpoint)
		e.transferFailed(op)
		return fmt.Errorf("payout transfer aborted: %w", err)
	}

	written, removed := e.reservationDelta(gameID)
	e.commit(requestID, &event.PaidOut{To: to, Game: gameID, Amount: amount}, written, removed)
	e.applied(op, start)
	return nil
}

// Query returns the current available/reserved snapshot. Read-only.
func (e *Engine) Query() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.Initialized() {
		return Status{}, pool.ErrNotInitialized
	}
	return Status{
		Available:    e.ledger.Available,
		Reserved:     e.ledger.TotalReserved,
		AsOfSequence: e.sequence,
	}, nil
}

// Reservations returns copies of all active reservations.
func (e *Engine) Reservations() []pool.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.All()
}

// GetSequence returns the next sequence the engine will assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current hash chain tip.
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

func (e *Engine) requireAdmin(caller uuid.UUID) error {
	if !e.ledger.Initialized() {
		return pool.ErrNotInitialized
	}
	if caller != e.ledger.Admin {
		return pool.ErrNotAuthorized
	}
	return e.auth.Authorize(caller)
}

// reservationDelta reports the post-mutation row state for gameID: either a
// row to upsert or a deletion.
func (e *Engine) reservationDelta(gameID string) (written []pool.Reservation, removed []string) {
	if r, ok := e.table.Get(gameID); ok {
		return []pool.Reservation{*r}, nil
	}
	return nil, []string{gameID}
}

// commit validates invariants, assigns a sequence, advances the hash chain,
// emits the envelope, and records the request id. Validation runs before
// anything leaves the engine: a violating state must never reach the event
// log or downstream consumers. Persist sends block (backpressure, no event
// lost); publish sends drop when full (consumers rebuild from the log).
func (e *Engine) commit(requestID uuid.UUID, n event.Notification, written []pool.Reservation, removed []string) {
	if err := e.validator.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", n.OpType(), err))
	}

	seq := e.sequence
	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(seq, ComputeStateDigest(e.ledger, e.table))

	out := Output{
		Envelope: &event.Envelope{
			Sequence:     seq,
			RequestID:    requestID,
			OpType:       n.OpType(),
			GameID:       n.GameID(),
			Notification: n,
			StateHash:    hash,
			PrevHash:     prev,
			Timestamp:    time.Now().UTC(),
		},
		Pool:    e.ledger.Snapshot(),
		Written: written,
		Removed: removed,
	}

	e.sequence++
	e.dedup.MarkCommitted(n.OpType().String(), requestID.String())

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (e *Engine) applied(op event.OpType, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op.String()).Inc()
	e.metrics.OpDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	e.metrics.PoolAvailable.Set(float64(e.ledger.Available))
	e.metrics.PoolReserved.Set(float64(e.ledger.TotalReserved))
	e.metrics.ActiveReservations.Set(float64(e.table.Len()))
	e.metrics.EngineSequence.Set(float64(e.sequence))
	e.metrics.DedupLRUSize.Set(float64(e.dedup.Size()))
}

func (e *Engine) duplicate(op event.OpType, tier string) {
	if e.metrics != nil {
		e.metrics.DuplicateRequests.WithLabelValues(op.String(), tier).Inc()
	}
}

func (e *Engine) reject(op event.OpType, err error) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op.String(), observability.RejectReason(err)).Inc()
	}
}

func (e *Engine) transferFailed(op event.OpType) {
	if e.metrics != nil {
		e.metrics.TransferFailures.WithLabelValues(op.String()).Inc()
		e.metrics.OpsRejected.WithLabelValues(op.String(), "transfer_failed").Inc()
	}
}
