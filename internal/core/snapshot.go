package core

import (
	"github.com/google/uuid"

	"PrizePool/internal/pool"
)

// SnapshotState is a point-in-time capture of everything the engine needs
// for a warm restart: pool counters, active reservations, the hash chain
// tip, and the recently committed request keys for deduplication.
type SnapshotState struct {
	Sequence    int64              `json:"sequence"`
	StateHash   [32]byte           `json:"state_hash"`
	Initialized bool               `json:"initialized"`
	Admin       uuid.UUID          `json:"admin"`
	Asset       string             `json:"asset"`
	Available   int64              `json:"available"`
	Reserved    int64              `json:"reserved"`
	Inflow      int64              `json:"inflow"`
	Outflow     int64              `json:"outflow"`
	Entries     []pool.Reservation `json:"entries"`
	RequestKeys []string           `json:"request_keys"`
}

// CreateSnapshotState captures the current engine state.
func (e *Engine) CreateSnapshotState() SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return SnapshotState{
		Sequence:    e.sequence,
		StateHash:   e.hasher.GetPrevHash(),
		Initialized: e.ledger.Initialized(),
		Admin:       e.ledger.Admin,
		Asset:       e.ledger.Asset,
		Available:   e.ledger.Available,
		Reserved:    e.ledger.TotalReserved,
		Inflow:      e.ledger.Inflow,
		Outflow:     e.ledger.Outflow,
		Entries:     e.table.All(),
		RequestKeys: e.dedup.Keys(),
	}
}

// RestoreFromSnapshot reinstates engine state from a snapshot. Must be
// called before the engine starts serving operations.
func (e *Engine) RestoreFromSnapshot(snap SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)
	e.ledger.RestoreState(snap.Admin, snap.Asset, snap.Available, snap.Reserved, snap.Inflow, snap.Outflow, snap.Initialized)
	for i := range snap.Entries {
		r := snap.Entries[i]
		e.table.Restore(r.GameID, &r)
	}
	e.dedup.Warm(snap.RequestKeys)
}
