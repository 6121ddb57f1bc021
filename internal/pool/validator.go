package pool

import "fmt"

// Validator checks the pool accounting invariants after every applied
// operation. A failure here means corrupted state, not a caller error.
type Validator struct {
	ledger *Ledger
	table  *ReservationTable
}

func NewValidator(ledger *Ledger, table *ReservationTable) *Validator {
	return &Validator{ledger: ledger, table: table}
}

// Validate asserts all reachable-state invariants.
func (v *Validator) Validate() error {
	if v.ledger.Available < 0 {
		return fmt.Errorf("available is negative: %d", v.ledger.Available)
	}
	if v.ledger.TotalReserved < 0 {
		return fmt.Errorf("total_reserved is negative: %d", v.ledger.TotalReserved)
	}

	if sum := v.table.SumRemaining(); sum != v.ledger.TotalReserved {
		return fmt.Errorf("total_reserved=%d does not match sum of remaining=%d",
			v.ledger.TotalReserved, sum)
	}

	for _, r := range v.table.All() {
		if r.Remaining < 0 || r.Remaining > r.Total {
			return fmt.Errorf("reservation %s out of range: remaining=%d total=%d",
				r.GameID, r.Remaining, r.Total)
		}
	}

	// Conservation: everything funded in and not yet paid out is either
	// available or reserved.
	if v.ledger.Available+v.ledger.TotalReserved != v.ledger.Inflow-v.ledger.Outflow {
		return fmt.Errorf("conservation violated: available=%d reserved=%d inflow=%d outflow=%d",
			v.ledger.Available, v.ledger.TotalReserved, v.ledger.Inflow, v.ledger.Outflow)
	}

	return nil
}
