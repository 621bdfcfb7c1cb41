// Package ecs is a minimal structure-of-arrays entity store.
//
// It exists to give the replication layer something to read from and write
// into: each component is a presence bitmap plus float64 columns indexed by
// entity id. Components and their columns satisfy replication.Presence,
// replication.Adder and replication.Scalar directly.
package ecs

import (
	"fmt"

	"github.com/tickwire/tickwire/pkg/replication"
)

// Entity is an entity id. Ids are recycled after Despawn.
type Entity = replication.Entity

// World owns entity ids and the registered components.
type World struct {
	alive   []bool
	freeIDs []Entity
	count   int

	components []*Component
	byName     map[string]*Component
}

// NewWorld creates a world with room for initialCapacity entities before
// its slices grow.
func NewWorld(initialCapacity int) *World {
	return &World{
		alive:  make([]bool, 0, initialCapacity),
		byName: make(map[string]*Component),
	}
}

// Spawn creates an entity with no components. Recycled ids are handed out
// lowest last, so a fresh world yields 0, 1, 2, ...
func (w *World) Spawn() Entity {
	w.count++
	if n := len(w.freeIDs); n > 0 {
		e := w.freeIDs[n-1]
		w.freeIDs = w.freeIDs[:n-1]
		w.alive[e] = true
		return e
	}
	e := Entity(len(w.alive))
	w.alive = append(w.alive, true)
	return e
}

// Despawn removes e and all of its components. It reports whether e was
// alive.
func (w *World) Despawn(e Entity) bool {
	if !w.Alive(e) {
		return false
	}
	for _, c := range w.components {
		c.Remove(e)
	}
	w.alive[e] = false
	w.freeIDs = append(w.freeIDs, e)
	w.count--
	return true
}

// Alive reports whether e is a live entity.
func (w *World) Alive(e Entity) bool {
	return int(e) < len(w.alive) && w.alive[e]
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return w.count
}

// Entities returns the live entities in ascending id order.
func (w *World) Entities() []Entity {
	out := make([]Entity, 0, w.count)
	for i, ok := range w.alive {
		if ok {
			out = append(out, Entity(i))
		}
	}
	return out
}

// Register adds a component with the given float64 columns. It panics if
// name is already registered, the way a duplicate flag definition would.
func (w *World) Register(name string, fields ...string) *Component {
	if _, ok := w.byName[name]; ok {
		panic(fmt.Sprintf("ecs: component %q already registered", name))
	}
	c := newComponent(name, fields)
	w.components = append(w.components, c)
	w.byName[name] = c
	return c
}

// Component returns the component registered under name, or nil.
func (w *World) Component(name string) *Component {
	return w.byName[name]
}

// Components returns every component in registration order.
func (w *World) Components() []*Component {
	return w.components
}
