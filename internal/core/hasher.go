package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"PrizePool/internal/pool"
)

const genesisHashSeed = "PrizePool:genesis:v1"

// StateHasher computes the deterministic hash chain over pool state.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(genesisHashSeed)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// ComputeStateDigest builds canonical bytes over the pool counters and all
// active reservations, sorted by game id for determinism.
func ComputeStateDigest(ledger *pool.Ledger, table *pool.ReservationTable) []byte {
	reservations := table.All()
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].GameID < reservations[j].GameID
	})

	digest := make([]byte, 0, 32+len(reservations)*48)
	digest = appendInt64LE(digest, ledger.Available)
	digest = appendInt64LE(digest, ledger.TotalReserved)
	digest = appendInt64LE(digest, ledger.Inflow)
	digest = appendInt64LE(digest, ledger.Outflow)

	for _, r := range reservations {
		digest = append(digest, byte(len(r.GameID)))
		digest = append(digest, []byte(r.GameID)...)
		digest = appendInt64LE(digest, r.Total)
		digest = appendInt64LE(digest, r.Remaining)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
