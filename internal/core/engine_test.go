package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"PrizePool/internal/core"
	"PrizePool/internal/gateway"
	"PrizePool/internal/pool"
)

var (
	adminID  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	backerID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	winnerID = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	poolAcct = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
)

type fixture struct {
	engine *core.Engine
	tokens *gateway.MemoryTokenGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens := gateway.NewMemoryTokenGateway()
	tokens.Mint(backerID, 1_000_000)

	engine := core.NewEngine(
		0, poolAcct,
		gateway.OpenGate{}, tokens,
		nil, nil, // no persistence/publishing under test
		nil, 1024, nil,
	)
	return &fixture{engine: engine, tokens: tokens}
}

// newFundedFixture initializes the pool and funds it with amount.
func newFundedFixture(t *testing.T, amount int64) *fixture {
	t.Helper()
	f := newFixture(t)
	if err := f.engine.Init(uuid.New(), adminID, "USDT"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := f.engine.Fund(context.Background(), uuid.New(), backerID, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return f
}

func TestInit_Twice(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Init(uuid.New(), adminID, "USDT"); err != nil {
		t.Fatalf("first init: %v", err)
	}

	err := f.engine.Init(uuid.New(), adminID, "USDT")
	if !errors.Is(err, pool.ErrAlreadyInitialized) {
		t.Errorf("got %v, want ErrAlreadyInitialized", err)
	}
}

func TestFund_BeforeInit(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Fund(context.Background(), uuid.New(), backerID, 100)
	if !errors.Is(err, pool.ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestFund_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	f.engine.Init(uuid.New(), adminID, "USDT")

	for _, amount := range []int64{0, -5} {
		err := f.engine.Fund(context.Background(), uuid.New(), backerID, amount)
		if !errors.Is(err, pool.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestFund_MovesTokens(t *testing.T) {
	f := newFundedFixture(t, 500)

	if got := f.tokens.Balance(poolAcct); got != 500 {
		t.Errorf("pool account balance = %d, want 500", got)
	}
	if got := f.tokens.Balance(backerID); got != 999_500 {
		t.Errorf("backer balance = %d, want 999500", got)
	}

	status, err := f.engine.Query()
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status.Available != 500 {
		t.Errorf("available = %d, want 500", status.Available)
	}
}

func TestFund_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.engine.Init(uuid.New(), adminID, "USDT")

	// Backer holds 1,000,000; asking for more fails at the token service.
	err := f.engine.Fund(context.Background(), uuid.New(), backerID, 2_000_000)
	if err == nil {
		t.Fatal("fund should fail when the token transfer fails")
	}

	status, _ := f.engine.Query()
	if status.Available != 0 {
		t.Errorf("available = %d after failed fund, want 0", status.Available)
	}
	if got := f.tokens.Balance(poolAcct); got != 0 {
		t.Errorf("pool account balance = %d after failed fund, want 0", got)
	}
}

func TestReserve_InsufficientFunds(t *testing.T) {
	f := newFundedFixture(t, 100)

	err := f.engine.Reserve(uuid.New(), adminID, "game-1", 101)
	if !errors.Is(err, pool.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}

	status, _ := f.engine.Query()
	if status.Available != 100 || status.Reserved != 0 {
		t.Errorf("state changed on failed reserve: available=%d reserved=%d",
			status.Available, status.Reserved)
	}
}

func TestReserve_DuplicateGame(t *testing.T) {
	f := newFundedFixture(t, 1000)

	if err := f.engine.Reserve(uuid.New(), adminID, "game-1", 100); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	err := f.engine.Reserve(uuid.New(), adminID, "game-1", 50)
	if !errors.Is(err, pool.ErrGameAlreadyReserved) {
		t.Errorf("got %v, want ErrGameAlreadyReserved", err)
	}
}

func TestReserve_NonAdmin(t *testing.T) {
	f := newFundedFixture(t, 1000)

	err := f.engine.Reserve(uuid.New(), backerID, "game-1", 100)
	if !errors.Is(err, pool.ErrNotAuthorized) {
		t.Errorf("got %v, want ErrNotAuthorized", err)
	}
}

func TestRelease_ReturnsToAvailable(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 400)

	if err := f.engine.Release(uuid.New(), adminID, "game-1", 150); err != nil {
		t.Fatalf("release: %v", err)
	}

	status, _ := f.engine.Query()
	if status.Available != 750 {
		t.Errorf("available = %d, want 750", status.Available)
	}
	if status.Reserved != 250 {
		t.Errorf("reserved = %d, want 250", status.Reserved)
	}

	// Partial release leaves the reservation active.
	found := false
	for _, r := range f.engine.Reservations() {
		if r.GameID == "game-1" {
			found = true
			if r.Remaining != 250 {
				t.Errorf("remaining = %d, want 250", r.Remaining)
			}
			if r.Total != 400 {
				t.Errorf("total = %d, want 400", r.Total)
			}
		}
	}
	if !found {
		t.Error("reservation should survive a partial release")
	}
}

func TestRelease_Errors(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 400)

	err := f.engine.Release(uuid.New(), adminID, "missing", 10)
	if !errors.Is(err, pool.ErrReservationNotFound) {
		t.Errorf("got %v, want ErrReservationNotFound", err)
	}

	err = f.engine.Release(uuid.New(), adminID, "game-1", 401)
	if !errors.Is(err, pool.ErrPayoutExceedsReservation) {
		t.Errorf("got %v, want ErrPayoutExceedsReservation", err)
	}

	err = f.engine.Release(uuid.New(), adminID, "game-1", 0)
	if !errors.Is(err, pool.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestPayout_MultiWinner(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 300)

	second := uuid.MustParse("6ba7b813-9dad-11d1-80b4-00c04fd430c8")
	ctx := context.Background()

	if err := f.engine.Payout(ctx, uuid.New(), adminID, winnerID, "game-1", 200); err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if err := f.engine.Payout(ctx, uuid.New(), adminID, second, "game-1", 100); err != nil {
		t.Fatalf("second payout: %v", err)
	}

	if got := f.tokens.Balance(winnerID); got != 200 {
		t.Errorf("winner balance = %d, want 200", got)
	}
	if got := f.tokens.Balance(second); got != 100 {
		t.Errorf("second winner balance = %d, want 100", got)
	}

	// Fully consumed reservation disappears.
	if len(f.engine.Reservations()) != 0 {
		t.Error("reservation should be deleted once fully paid out")
	}

	status, _ := f.engine.Query()
	if status.Available != 700 || status.Reserved != 0 {
		t.Errorf("available=%d reserved=%d, want 700/0", status.Available, status.Reserved)
	}

	// The freed game id can host a new reservation.
	if err := f.engine.Reserve(uuid.New(), adminID, "game-1", 50); err != nil {
		t.Errorf("re-reserve after full payout: %v", err)
	}
}

func TestPayout_ExceedsReservation(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 300)

	err := f.engine.Payout(context.Background(), uuid.New(), adminID, winnerID, "game-1", 301)
	if !errors.Is(err, pool.ErrPayoutExceedsReservation) {
		t.Errorf("got %v, want ErrPayoutExceedsReservation", err)
	}

	status, _ := f.engine.Query()
	if status.Reserved != 300 {
		t.Errorf("reserved = %d after failed payout, want 300", status.Reserved)
	}
}

func TestPayout_DoesNotTouchAvailable(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 300)

	if err := f.engine.Payout(context.Background(), uuid.New(), adminID, winnerID, "game-1", 100); err != nil {
		t.Fatalf("payout: %v", err)
	}

	status, _ := f.engine.Query()
	if status.Available != 700 {
		t.Errorf("available = %d, payout must not touch available funds", status.Available)
	}
	if status.Reserved != 200 {
		t.Errorf("reserved = %d, want 200", status.Reserved)
	}
}

func TestQuery_BeforeInit(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Query()
	if !errors.Is(err, pool.ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestDuplicateRequest_NotReapplied(t *testing.T) {
	f := newFundedFixture(t, 1000)

	requestID := uuid.New()
	if err := f.engine.Reserve(requestID, adminID, "game-1", 100); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Same request id again: reported as success, applied once.
	if err := f.engine.Reserve(requestID, adminID, "game-1", 100); err != nil {
		t.Fatalf("duplicate reserve should return success: %v", err)
	}

	status, _ := f.engine.Query()
	if status.Reserved != 100 {
		t.Errorf("reserved = %d, duplicate request must not re-apply", status.Reserved)
	}
}

func TestSequence_AdvancesPerCommit(t *testing.T) {
	f := newFundedFixture(t, 1000)

	before := f.engine.GetSequence()
	f.engine.Reserve(uuid.New(), adminID, "game-1", 100)
	if got := f.engine.GetSequence(); got != before+1 {
		t.Errorf("sequence = %d, want %d", got, before+1)
	}

	// Rejected operations do not consume a sequence.
	f.engine.Reserve(uuid.New(), adminID, "game-1", 100)
	if got := f.engine.GetSequence(); got != before+1 {
		t.Errorf("sequence = %d after rejection, want %d", got, before+1)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	f := newFundedFixture(t, 1000)
	f.engine.Reserve(uuid.New(), adminID, "game-1", 300)
	f.engine.Payout(context.Background(), uuid.New(), adminID, winnerID, "game-1", 100)

	snap := f.engine.CreateSnapshotState()

	restored := core.NewEngine(0, poolAcct, gateway.OpenGate{}, f.tokens, nil, nil, nil, 1024, nil)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != f.engine.GetSequence() {
		t.Errorf("sequence = %d, want %d", restored.GetSequence(), f.engine.GetSequence())
	}
	if restored.GetStateHash() != f.engine.GetStateHash() {
		t.Error("state hash not restored")
	}

	got, _ := restored.Query()
	want, _ := f.engine.Query()
	if got != want {
		t.Errorf("restored status = %+v, want %+v", got, want)
	}

	// The restored engine keeps operating correctly.
	if err := restored.Release(uuid.New(), adminID, "game-1", 200); err != nil {
		t.Fatalf("release on restored engine: %v", err)
	}
}
