package meshnet

import (
	"testing"

	"github.com/google/uuid"
)

type fakeConn struct {
	id       uuid.UUID
	shutdown bool
}

func (c *fakeConn) UUID() uuid.UUID { return c.id }
func (c *fakeConn) Shutdown()       { c.shutdown = true }

func TestPoolInsertRejectsDuplicate(t *testing.T) {
	p := NewPool()
	id := uuid.New()
	if ok := p.Insert(&fakeConn{id: id}); !ok {
		t.Fatal("first Insert = false, want true")
	}
	if ok := p.Insert(&fakeConn{id: id}); ok {
		t.Fatal("second Insert for the same UUID = true, want false")
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
}

func TestPoolGetUnknownUUID(t *testing.T) {
	p := NewPool()
	if _, ok := p.Get(uuid.New()); ok {
		t.Fatal("Get on an empty pool = true, want false")
	}
}

func TestPoolRemoveThenGet(t *testing.T) {
	p := NewPool()
	id := uuid.New()
	p.Insert(&fakeConn{id: id})
	p.Remove(id)
	if _, ok := p.Get(id); ok {
		t.Fatal("Get after Remove = true, want false")
	}
	if p.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", p.Len())
	}
}

func TestPoolRemoveDoesNotShutdown(t *testing.T) {
	p := NewPool()
	c := &fakeConn{id: uuid.New()}
	p.Insert(c)
	p.Remove(c.id)
	if c.shutdown {
		t.Fatal("Remove called Shutdown, it must not")
	}
}

func TestPoolSnapshotIsPointInTime(t *testing.T) {
	p := NewPool()
	p.Insert(&fakeConn{id: uuid.New()})
	p.Insert(&fakeConn{id: uuid.New()})

	snap := p.Snapshot()
	p.Insert(&fakeConn{id: uuid.New()})

	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2 (unaffected by later inserts)", len(snap))
	}
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
}

func TestPoolShutdownAllShutsDownEveryConnection(t *testing.T) {
	p := NewPool()
	conns := []*fakeConn{{id: uuid.New()}, {id: uuid.New()}, {id: uuid.New()}}
	for _, c := range conns {
		p.Insert(c)
	}
	p.ShutdownAll()
	for _, c := range conns {
		if !c.shutdown {
			t.Fatalf("connection %s was not shut down", c.id)
		}
	}
}
