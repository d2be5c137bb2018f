package meshnet

import (
	"sync"

	"github.com/google/uuid"
)

// PooledConnection is the minimal surface the Pool needs from a
// connection, avoiding an import cycle between meshnet and the
// connection package (which itself depends on meshnet's NodeInfo and
// UUIDRegistry).
type PooledConnection interface {
	UUID() uuid.UUID
	Shutdown()
}

// Pool maps a peer's UUID to its Connection. Only the pool owns
// connections; every other component (MeshManager, heartbeat monitor,
// router) holds non-owning references keyed by UUID and re-resolves
// through the pool on every use rather than caching a pointer across
// suspension points, per spec.md §9.
type Pool struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]PooledConnection
}

func NewPool() *Pool {
	return &Pool{byID: make(map[uuid.UUID]PooledConnection)}
}

// Insert adds conn to the pool. ok is false if a connection already
// exists for this UUID — the caller must reject the duplicate rather
// than overwrite it, per spec.md §4.5's duplicate-discovery suppression.
func (p *Pool) Insert(conn PooledConnection) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[conn.UUID()]; exists {
		return false
	}
	p.byID[conn.UUID()] = conn
	return true
}

// Get resolves a UUID to its connection.
func (p *Pool) Get(id uuid.UUID) (PooledConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byID[id]
	return c, ok
}

// Remove drops a connection from the pool. It does not shut the
// connection down; callers that want that must call Shutdown
// themselves before or after removing it from the pool.
func (p *Pool) Remove(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, id)
}

// Len reports the number of pooled connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// Snapshot returns a point-in-time copy of every pooled connection.
func (p *Pool) Snapshot() []PooledConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PooledConnection, 0, len(p.byID))
	for _, c := range p.byID {
		out = append(out, c)
	}
	return out
}

// ShutdownAll closes every pooled connection, used during daemon
// shutdown.
func (p *Pool) ShutdownAll() {
	for _, c := range p.Snapshot() {
		c.Shutdown()
	}
}
