package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRequestChecker is the cold-path duplicate lookup against the
// durable event log. It backs the engine's in-memory LRU for request ids
// that fell out of the hot tier.
type PostgresRequestChecker struct {
	db *sql.DB
}

func NewPostgresRequestChecker(db *sql.DB) *PostgresRequestChecker {
	return &PostgresRequestChecker{db: db}
}

// IsDuplicate reports whether a committed event with this (op_type,
// request_id) pair already exists.
func (c *PostgresRequestChecker) IsDuplicate(opType string, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM pool.events
		WHERE op_type = $1 AND request_id = $2
		LIMIT 1
	`, opType, requestID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
