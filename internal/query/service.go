package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// Service provides read-only access to the derived reservation and event
// tables. These reads go to Postgres so heavy listing traffic never
// contends with operation execution; the pool counters themselves are
// served live from the engine.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListReservations returns active reservations, paged by game id.
func (s *Service) ListReservations(ctx context.Context, afterGame string, limit int) ([]ReservationResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, total, remaining, expires_at, updated_at
		FROM pool.reservations
		WHERE game_id > $1
		ORDER BY game_id
		LIMIT $2
	`, afterGame, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReservationResponse
	for rows.Next() {
		var r ReservationResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.GameID, &r.Total, &r.Remaining, &r.ExpiresAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListEvents returns the event log with cursor-based pagination, optionally
// filtered by game id.
func (s *Service) ListEvents(ctx context.Context, gameID *string, afterSequence *int64, limit int) ([]EventResponse, error) {
	query := `
		SELECT sequence, op_type, request_id, game_id, payload, state_hash, timestamp
		FROM pool.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if gameID != nil {
		query += fmt.Sprintf(" AND game_id = $%d", argIdx)
		args = append(args, *gameID)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var stateHash []byte
		if err := rows.Scan(&e.Sequence, &e.OpType, &e.RequestID, &e.GameID,
			&e.Payload, &stateHash, &e.Timestamp); err != nil {
			return nil, err
		}
		e.StateHash = hex.EncodeToString(stateHash)
		events = append(events, e)
	}
	return events, rows.Err()
}

// getWatermark returns the last persisted sequence for freshness metadata.
func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT sequence FROM pool.state WHERE id = 1`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq.Int64, nil
}
