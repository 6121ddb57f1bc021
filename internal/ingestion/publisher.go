package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PrizePool/internal/core"
)

// OutboundPublisher publishes committed operations to NATS for downstream
// consumers (game services, payout reconciliation, audit). Publishing is
// best-effort: the event log in Postgres is the source of truth, and a
// consumer that misses a notification can rebuild from it.
//
// Subjects follow the pattern: pool.ledger.events.{op_type}[.{game_id}]
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	logger    zerolog.Logger
}

// outboundEvent is the wire form of one committed operation.
type outboundEvent struct {
	Sequence  int64       `json:"sequence"`
	OpType    string      `json:"op_type"`
	RequestID string      `json:"request_id"`
	GameID    *string     `json:"game_id,omitempty"`
	Payload   interface{} `json:"payload"`
	StateHash string      `json:"state_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the input
// channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: consumers can query the event log directly.
				op.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope

	data, err := json.Marshal(outboundEvent{
		Sequence:  env.Sequence,
		OpType:    env.OpType.String(),
		RequestID: env.RequestID.String(),
		GameID:    env.GameID,
		Payload:   env.Notification,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Timestamp: env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("pool.ledger.events.%s", env.OpType)
	if env.GameID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.GameID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "POOL_LEDGER_EVENTS",
		Subjects:  []string{"pool.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
