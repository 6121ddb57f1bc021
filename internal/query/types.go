package query

import (
	"encoding/json"
	"time"
)

// ReservationResponse is one active reservation row. All responses include
// as_of_sequence for freshness semantics.
type ReservationResponse struct {
	GameID       string    `json:"game_id"`
	Total        int64     `json:"total"`
	Remaining    int64     `json:"remaining"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// EventResponse is one committed operation from the event log.
type EventResponse struct {
	Sequence  int64           `json:"sequence"`
	OpType    string          `json:"op_type"`
	RequestID string          `json:"request_id"`
	GameID    *string         `json:"game_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}
