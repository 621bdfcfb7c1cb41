package replication

import (
	"fmt"
	"hash/fnv"
)

// Registry is the ordered list of replicated component schemas.
// The position of a schema is its bit in the entity change mask, so every
// peer must register the same schemas in the same order.
//
// A Registry is not safe for concurrent mutation. Register everything at
// startup, before the first snapshot is written or read.
type Registry struct {
	schemas []Schema
	index   map[string]int
	cache   *Cache
}

// NewRegistry creates an empty registry with its own last-sent cache.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
		cache: NewCache(),
	}
}

// Cache returns the last-sent cache used by components built through
// Define.
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Define starts a component whose presence is reported by p.
//
//	_, err := reg.Define("transform", world.Transform).
//		Vector3("position", px, py, pz).
//		CompressedQuaternion("rotation", qx, qy, qz, qw).
//		Register()
func (r *Registry) Define(id string, p Presence) *ComponentBuilder {
	return &ComponentBuilder{registry: r, id: id, presence: p}
}

// Register appends s. Its bit index is the number of schemas registered
// before it.
func (r *Registry) Register(s Schema) error {
	if _, ok := r.index[s.ID()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSchema, s.ID())
	}
	if len(r.schemas) == MaxItems {
		return ErrTooManyItems
	}
	r.index[s.ID()] = len(r.schemas)
	r.schemas = append(r.schemas, s)
	return nil
}

// Unregister removes the schema with the given id. Later schemas shift
// down one bit.
func (r *Registry) Unregister(id string) bool {
	i, ok := r.index[id]
	if !ok {
		return false
	}
	r.schemas = append(r.schemas[:i], r.schemas[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.schemas); j++ {
		r.index[r.schemas[j].ID()] = j
	}
	return true
}

// Lookup returns the schema registered under id.
func (r *Registry) Lookup(id string) (Schema, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.schemas[i], true
}

// Bit returns the mask bit of the schema registered under id.
func (r *Registry) Bit(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Schemas returns the schemas in bit order.
// The returned slice must not be modified.
func (r *Registry) Schemas() []Schema {
	return r.schemas
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int {
	return len(r.schemas)
}

// MaskWidth returns the width in bytes of the entity change mask.
func (r *Registry) MaskWidth() int {
	w, _ := maskWidth(len(r.schemas))
	return w
}

// Fingerprint hashes the ordered schema ids and, where available, their
// field layouts with FNV-1a. Two registries with equal fingerprints agree
// on every bit of the wire format.
func (r *Registry) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, s := range r.schemas {
		h.Write([]byte(s.ID()))
		h.Write([]byte{0})
		if d, ok := s.(Describer); ok {
			h.Write([]byte(d.Describe()))
		}
		h.Write([]byte{0})
	}
	return h.Sum64()
}
