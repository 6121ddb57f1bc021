package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PrizePool/internal/core"
	"PrizePool/internal/event"
	"PrizePool/internal/observability"
	"PrizePool/internal/persistence"
	"PrizePool/internal/pool"
	"PrizePool/internal/testutil"
)

func TestWorker_WritesEventsAndState(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", observability.NewLoggerWithLevel("migrator", zerolog.Disabled))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	input := make(chan core.Output, 8)
	worker := persistence.NewWorker(db, input, 4, 5*time.Millisecond, time.Hour,
		observability.NewLoggerWithLevel("persistence", zerolog.Disabled), nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(runCtx)
	}()

	admin := uuid.New()
	game := "game-1"
	input <- core.Output{
		Envelope: &event.Envelope{
			Sequence:     0,
			RequestID:    uuid.New(),
			OpType:       event.OpTypeReserved,
			GameID:       &game,
			Notification: &event.Reserved{Game: game, Amount: 300},
			Timestamp:    time.Now().UTC(),
		},
		Pool: pool.Ledger{
			Admin:         admin,
			Asset:         "USDT",
			Available:     700,
			TotalReserved: 300,
			Inflow:        1000,
		},
		Written: []pool.Reservation{{GameID: game, Total: 300, Remaining: 300}},
	}

	// Wait for the flush timeout to land the batch.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pool.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}

	var available, reserved int64
	if err := db.QueryRow(`SELECT available, total_reserved FROM pool.state WHERE id = 1`).
		Scan(&available, &reserved); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if available != 700 || reserved != 300 {
		t.Errorf("state = %d/%d, want 700/300", available, reserved)
	}

	var remaining int64
	var expiresAt time.Time
	if err := db.QueryRow(`SELECT remaining, expires_at FROM pool.reservations WHERE game_id = $1`, game).
		Scan(&remaining, &expiresAt); err != nil {
		t.Fatalf("read reservation: %v", err)
	}
	if remaining != 300 {
		t.Errorf("remaining = %d, want 300", remaining)
	}
	if !expiresAt.After(time.Now()) {
		t.Error("expires_at lease should be in the future")
	}
}

func TestPostgresRequestChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", observability.NewLoggerWithLevel("migrator", zerolog.Disabled))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	requestID := uuid.New()
	_, err := db.Exec(`
		INSERT INTO pool.events (sequence, op_type, request_id, game_id, payload, state_hash, prev_hash, timestamp)
		VALUES (0, 'Funded', $1, NULL, '{}', '\x00', '\x00', now())
	`, requestID)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	checker := persistence.NewPostgresRequestChecker(db)

	dup, err := checker.IsDuplicate("Funded", requestID.String())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !dup {
		t.Error("existing event not reported as duplicate")
	}

	dup, err = checker.IsDuplicate("Funded", uuid.New().String())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if dup {
		t.Error("unknown request reported as duplicate")
	}
}
