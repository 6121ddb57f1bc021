package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"PrizePool/internal/pool"
)

// AuthGate verifies that a principal is authorized to act. Implementations
// fail closed: a caller that ignores the returned error still gets no
// capability back, so the check cannot be skipped accidentally.
type AuthGate interface {
	Authorize(principal uuid.UUID) error
}

// TokenGateway moves units of the pool's asset between two accounts. A
// transfer either fully completes or returns an error; the engine aborts the
// enclosing operation on any error.
type TokenGateway interface {
	Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error
}

// AllowListGate authorizes a fixed set of principals.
type AllowListGate struct {
	allowed map[uuid.UUID]bool
}

func NewAllowListGate(principals ...uuid.UUID) *AllowListGate {
	allowed := make(map[uuid.UUID]bool, len(principals))
	for _, p := range principals {
		allowed[p] = true
	}
	return &AllowListGate{allowed: allowed}
}

// Allow adds a principal to the set.
func (g *AllowListGate) Allow(principal uuid.UUID) {
	g.allowed[principal] = true
}

func (g *AllowListGate) Authorize(principal uuid.UUID) error {
	if !g.allowed[principal] {
		return pool.ErrNotAuthorized
	}
	return nil
}

// OpenGate authorizes every principal. Used for surfaces that are not
// admin-gated (Fund accepts any caller) and in dev mode.
type OpenGate struct{}

func (OpenGate) Authorize(uuid.UUID) error { return nil }

// MemoryTokenGateway is an in-process token ledger for tests and dev mode.
type MemoryTokenGateway struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
}

func NewMemoryTokenGateway() *MemoryTokenGateway {
	return &MemoryTokenGateway{
		balances: make(map[uuid.UUID]int64),
	}
}

// Mint credits an account out of thin air. Test/dev setup only.
func (g *MemoryTokenGateway) Mint(account uuid.UUID, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[account] += amount
}

// Balance returns the current balance of an account.
func (g *MemoryTokenGateway) Balance(account uuid.UUID) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account]
}

func (g *MemoryTokenGateway) Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balances[from] < amount {
		return fmt.Errorf("insufficient token balance: have=%d, need=%d", g.balances[from], amount)
	}
	g.balances[from] -= amount
	g.balances[to] += amount
	return nil
}
