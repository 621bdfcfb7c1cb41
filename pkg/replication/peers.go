package replication

import (
	"sync"

	"github.com/google/uuid"
)

// PeerTable maps peer identities to the small integer indices written on
// the wire. An index stays with its peer until the peer is removed; freed
// indices are reused lowest first.
//
// PeerTable is safe for concurrent use.
type PeerTable struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]uint32
	byIdx []uuid.UUID
	free  []uint32
}

// NewPeerTable creates an empty table.
func NewPeerTable() *PeerTable {
	return &PeerTable{
		byID: make(map[uuid.UUID]uint32),
	}
}

// Add returns the index of id, assigning one if id is new.
func (t *PeerTable) Add(id uuid.UUID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byID[id]; ok {
		return idx
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		lo := 0
		for i := 1; i < n; i++ {
			if t.free[i] < t.free[lo] {
				lo = i
			}
		}
		idx = t.free[lo]
		t.free[lo] = t.free[n-1]
		t.free = t.free[:n-1]
		t.byIdx[idx] = id
	} else {
		idx = uint32(len(t.byIdx))
		t.byIdx = append(t.byIdx, id)
	}
	t.byID[id] = idx
	return idx
}

// Remove frees the index of id.
func (t *PeerTable) Remove(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	t.byIdx[idx] = uuid.Nil
	t.free = append(t.free, idx)
	return true
}

// Index returns the index assigned to id.
func (t *PeerTable) Index(id uuid.UUID) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byID[id]
	return idx, ok
}

// Lookup returns the peer holding idx.
func (t *PeerTable) Lookup(idx uint32) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(idx) >= len(t.byIdx) || t.byIdx[idx] == uuid.Nil {
		return uuid.Nil, false
	}
	return t.byIdx[idx], true
}

// Len returns the number of peers in the table.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
