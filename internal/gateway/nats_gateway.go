package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultTransferSubject is the request/reply subject served by the token
// service.
const DefaultTransferSubject = "token.transfer"

// NATSTokenGateway calls the external token service over NATS request/reply.
// The token service owns the actual asset balances; the pool only learns
// whether the unit move succeeded.
type NATSTokenGateway struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type transferReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func NewNATSTokenGateway(nc *nats.Conn, subject string, timeout time.Duration) *NATSTokenGateway {
	if subject == "" {
		subject = DefaultTransferSubject
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSTokenGateway{nc: nc, subject: subject, timeout: timeout}
}

func (g *NATSTokenGateway) Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error {
	req := transferRequest{
		From:   from.String(),
		To:     to.String(),
		Amount: amount,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal transfer request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.nc.RequestWithContext(ctx, g.subject, data)
	if err != nil {
		return fmt.Errorf("token transfer request: %w", err)
	}

	var reply transferReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode transfer reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("token transfer rejected: %s", reply.Error)
	}
	return nil
}
