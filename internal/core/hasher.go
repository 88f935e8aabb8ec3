package core

import (
	"crypto/sha256"
	"encoding/binary"

	"VAMMLedger/internal/state"
)

// GenesisHashSeed seeds the hash chain before the first batch.
const GenesisHashSeed = "VAMMLedger:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(h.prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	// Write state digest
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	// Update prev_hash for next iteration
	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip after recovery.
func (h *StateHasher) SetPrevHash(tip [32]byte) {
	h.prevHash = tip
}

// DigestRecords is the canonical digest of a batch's changed records:
// each key and value length-prefixed, in key order.
func DigestRecords(records []state.Record) []byte {
	size := 0
	for _, r := range records {
		size += 8 + len(r.Key) + len(r.Value)
	}
	digest := make([]byte, 0, size)
	for _, r := range records {
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(r.Key)))
		digest = append(digest, r.Key...)
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(r.Value)))
		digest = append(digest, r.Value...)
	}
	return digest
}
