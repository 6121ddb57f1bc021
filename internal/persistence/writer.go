package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PrizePool/internal/pool"
)

// StateWriter writes the event log and the derived state tables to Postgres
// using batch inserts. Multi-row INSERT keeps the implementation portable;
// switch to pgx CopyFrom if write throughput ever becomes the bottleneck.
type StateWriter struct {
	db *sql.DB

	// reservationHorizon is how far into the future every touched row's
	// expires_at lease is pushed. Rows whose lease lapses belong to a dead
	// writer and are eligible for operator reconciliation.
	reservationHorizon time.Duration
}

// EventRow represents a row in pool.events.
type EventRow struct {
	Sequence  int64
	OpType    string
	RequestID string
	GameID    *string
	Payload   []byte // JSON-encoded notification
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// PoolRow is the single-row pool state upsert.
type PoolRow struct {
	Admin         string
	Asset         string
	Available     int64
	TotalReserved int64
	Inflow        int64
	Outflow       int64
	Sequence      int64
}

func NewStateWriter(db *sql.DB, reservationHorizon time.Duration) *StateWriter {
	return &StateWriter{
		db:                 db,
		reservationHorizon: reservationHorizon,
	}
}

// WriteEventBatch appends a batch of events to pool.events inside tx.
// ON CONFLICT DO NOTHING makes replays after a crash idempotent.
func (w *StateWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO pool.events
		(sequence, op_type, request_id, game_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.OpType, e.RequestID, e.GameID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WritePoolState upserts the single authoritative pool counters row.
func (w *StateWriter) WritePoolState(ctx context.Context, tx *sql.Tx, row PoolRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pool.state (id, admin, asset, available, total_reserved, inflow, outflow, sequence, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			asset = EXCLUDED.asset,
			available = EXCLUDED.available,
			total_reserved = EXCLUDED.total_reserved,
			inflow = EXCLUDED.inflow,
			outflow = EXCLUDED.outflow,
			sequence = EXCLUDED.sequence,
			updated_at = now()`,
		row.Admin, row.Asset, row.Available, row.TotalReserved,
		row.Inflow, row.Outflow, row.Sequence,
	)
	return err
}

// WriteReservations upserts touched reservations and deletes consumed ones.
// Every upsert renews the row's expires_at lease.
func (w *StateWriter) WriteReservations(ctx context.Context, tx *sql.Tx, written []pool.Reservation, removed []string) error {
	for _, r := range written {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pool.reservations (game_id, total, remaining, expires_at, updated_at)
			VALUES ($1, $2, $3, now() + $4::interval, now())
			ON CONFLICT (game_id) DO UPDATE SET
				total = EXCLUDED.total,
				remaining = EXCLUDED.remaining,
				expires_at = EXCLUDED.expires_at,
				updated_at = now()`,
			r.GameID, r.Total, r.Remaining, w.reservationHorizon.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert reservation %s: %w", r.GameID, err)
		}
	}

	for _, gameID := range removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pool.reservations WHERE game_id = $1`, gameID); err != nil {
			return fmt.Errorf("delete reservation %s: %w", gameID, err)
		}
	}

	return nil
}

// MarshalPayload JSON-encodes a notification payload for the events table.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
