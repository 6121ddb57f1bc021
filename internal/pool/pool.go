package pool

import "github.com/google/uuid"

// Ledger holds the pool-wide accounting counters and the admin/asset
// configuration. Amounts are fixed-point base units of the single asset the
// pool custodies.
//
// Invariants: Available >= 0, TotalReserved >= 0, and
// TotalReserved == sum of Remaining over all active reservations (enforced
// by the Validator after every applied operation).
type Ledger struct {
	Admin uuid.UUID
	Asset string

	// Available is the amount free to be reserved.
	Available int64

	// TotalReserved is the amount earmarked across all active reservations.
	TotalReserved int64

	// Cumulative flow counters, used for the conservation check:
	// Available + TotalReserved == Inflow - Outflow.
	Inflow  int64
	Outflow int64

	initialized bool
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Initialize configures the pool exactly once.
func (l *Ledger) Initialize(admin uuid.UUID, asset string) error {
	if l.initialized {
		return ErrAlreadyInitialized
	}
	l.Admin = admin
	l.Asset = asset
	l.Available = 0
	l.TotalReserved = 0
	l.initialized = true
	return nil
}

func (l *Ledger) Initialized() bool {
	return l.initialized
}

// Credit adds amount to Available using checked addition. No mutation on
// overflow.
func (l *Ledger) Credit(amount int64) error {
	next, err := CheckedAdd(l.Available, amount)
	if err != nil {
		return err
	}
	inflow, err := CheckedAdd(l.Inflow, amount)
	if err != nil {
		return err
	}
	l.Available = next
	l.Inflow = inflow
	return nil
}

// Earmark moves amount from Available to TotalReserved.
// Fails with ErrInsufficientFunds before touching either counter.
func (l *Ledger) Earmark(amount int64) error {
	if amount > l.Available {
		return ErrInsufficientFunds
	}
	reserved, err := CheckedAdd(l.TotalReserved, amount)
	if err != nil {
		return err
	}
	l.Available -= amount
	l.TotalReserved = reserved
	return nil
}

// ReturnToAvailable moves amount from TotalReserved back to Available.
func (l *Ledger) ReturnToAvailable(amount int64) error {
	next, err := CheckedAdd(l.Available, amount)
	if err != nil {
		return err
	}
	l.TotalReserved -= amount
	l.Available = next
	return nil
}

// Settle removes amount from TotalReserved as paid out of the pool.
func (l *Ledger) Settle(amount int64) error {
	outflow, err := CheckedAdd(l.Outflow, amount)
	if err != nil {
		return err
	}
	l.TotalReserved -= amount
	l.Outflow = outflow
	return nil
}

// Snapshot returns a copy of the ledger for checkpoint/restore.
func (l *Ledger) Snapshot() Ledger {
	return *l
}

// Restore overwrites the ledger with a previously taken snapshot.
func (l *Ledger) Restore(snap Ledger) {
	*l = snap
}

// RestoreState reinstates the ledger from persisted snapshot fields,
// used on warm restart.
func (l *Ledger) RestoreState(admin uuid.UUID, asset string, available, totalReserved, inflow, outflow int64, initialized bool) {
	l.Admin = admin
	l.Asset = asset
	l.Available = available
	l.TotalReserved = totalReserved
	l.Inflow = inflow
	l.Outflow = outflow
	l.initialized = initialized
}
