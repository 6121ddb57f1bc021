package pool

// Reservation is an earmark of pool funds tied to one game identifier.
// Total is fixed at creation; Remaining only ever decreases.
type Reservation struct {
	GameID    string
	Total     int64
	Remaining int64
}

// ReservationTable maps game identifiers to their active reservations and
// enforces the per-game lifecycle: an entry is created by Reserve, shrunk by
// Release and Payout, and removed the instant Remaining reaches zero. A
// removed identifier may be reserved again by a fresh Reserve call.
type ReservationTable struct {
	entries map[string]*Reservation
}

func NewReservationTable() *ReservationTable {
	return &ReservationTable{
		entries: make(map[string]*Reservation),
	}
}

// Get returns the active reservation for gameID, if any.
func (t *ReservationTable) Get(gameID string) (*Reservation, bool) {
	r, ok := t.entries[gameID]
	return r, ok
}

// Create adds a new reservation. Fails with ErrGameAlreadyReserved if an
// active entry exists for gameID.
func (t *ReservationTable) Create(gameID string, amount int64) error {
	if _, exists := t.entries[gameID]; exists {
		return ErrGameAlreadyReserved
	}
	t.entries[gameID] = &Reservation{
		GameID:    gameID,
		Total:     amount,
		Remaining: amount,
	}
	return nil
}

// Consume decrements the reservation's Remaining by amount, deleting the
// entry when it hits zero. Fails with ErrReservationNotFound or
// ErrPayoutExceedsReservation before any mutation.
func (t *ReservationTable) Consume(gameID string, amount int64) error {
	r, ok := t.entries[gameID]
	if !ok {
		return ErrReservationNotFound
	}
	if amount > r.Remaining {
		return ErrPayoutExceedsReservation
	}
	r.Remaining -= amount
	if r.Remaining == 0 {
		delete(t.entries, gameID)
	}
	return nil
}

// Restore reinstates a reservation state captured before a mutation. A nil
// prior means the entry did not exist and any current entry is removed.
func (t *ReservationTable) Restore(gameID string, prior *Reservation) {
	if prior == nil {
		delete(t.entries, gameID)
		return
	}
	cp := *prior
	t.entries[gameID] = &cp
}

// CheckpointEntry returns a copy of the current entry for gameID, or nil if
// no active entry exists. Used with Restore for all-or-nothing operations.
func (t *ReservationTable) CheckpointEntry(gameID string) *Reservation {
	r, ok := t.entries[gameID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// SumRemaining returns the sum of Remaining over all active reservations.
func (t *ReservationTable) SumRemaining() int64 {
	var sum int64
	for _, r := range t.entries {
		sum += r.Remaining
	}
	return sum
}

// Len returns the number of active reservations.
func (t *ReservationTable) Len() int {
	return len(t.entries)
}

// All returns copies of all active reservations (order undefined).
func (t *ReservationTable) All() []Reservation {
	out := make([]Reservation, 0, len(t.entries))
	for _, r := range t.entries {
		out = append(out, *r)
	}
	return out
}
