package event

import (
	"time"

	"github.com/google/uuid"
)

// OpType discriminates committed pool operations in the event log.
type OpType int32

const (
	OpTypeUnknown OpType = iota
	OpTypeInitialized
	OpTypeFunded
	OpTypeReserved
	OpTypeReleased
	OpTypePaidOut
)

func (op OpType) String() string {
	switch op {
	case OpTypeInitialized:
		return "Initialized"
	case OpTypeFunded:
		return "Funded"
	case OpTypeReserved:
		return "Reserved"
	case OpTypeReleased:
		return "Released"
	case OpTypePaidOut:
		return "PaidOut"
	default:
		return "Unknown"
	}
}

// Notification is the payload emitted for every committed operation.
type Notification interface {
	OpType() OpType

	// GameID returns the game context, or nil for pool-global operations.
	GameID() *string
}

// Initialized records the one-time pool configuration.
type Initialized struct {
	Admin uuid.UUID `json:"admin"`
	Asset string    `json:"asset"`
}

func (n *Initialized) OpType() OpType  { return OpTypeInitialized }
func (n *Initialized) GameID() *string { return nil }

// Funded records an inflow of amount from a principal into the pool.
type Funded struct {
	From   uuid.UUID `json:"from"`
	Amount int64     `json:"amount"`
}

func (n *Funded) OpType() OpType  { return OpTypeFunded }
func (n *Funded) GameID() *string { return nil }

// Reserved records an earmark of amount for a game.
type Reserved struct {
	Game   string `json:"game_id"`
	Amount int64  `json:"amount"`
}

func (n *Reserved) OpType() OpType  { return OpTypeReserved }
func (n *Reserved) GameID() *string { return &n.Game }

// Released records amount returned from a game's reservation to available.
type Released struct {
	Game   string `json:"game_id"`
	Amount int64  `json:"amount"`
}

func (n *Released) OpType() OpType  { return OpTypeReleased }
func (n *Released) GameID() *string { return &n.Game }

// PaidOut records amount settled from a game's reservation to a winner.
type PaidOut struct {
	To     uuid.UUID `json:"to"`
	Game   string    `json:"game_id"`
	Amount int64     `json:"amount"`
}

func (n *PaidOut) OpType() OpType  { return OpTypePaidOut }
func (n *PaidOut) GameID() *string { return &n.Game }

// Envelope wraps every committed operation in the event log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine.
	Sequence int64

	// Caller-supplied request id, used for deduplication.
	RequestID uuid.UUID

	// Operation discriminator.
	OpType OpType

	// Game context (nil for pool-global operations).
	GameID *string

	// Notification payload.
	Notification Notification

	// SHA-256 of pool state AFTER applying this operation.
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity).
	PrevHash [32]byte

	// Commit time.
	Timestamp time.Time
}
