package ecs

import (
	"fmt"
	"math/bits"
)

// Component is one component type: a presence bitmap and its columns.
type Component struct {
	name   string
	bits   []uint64
	count  int
	fields []*Field
	byName map[string]*Field
}

func newComponent(name string, fields []string) *Component {
	c := &Component{
		name:   name,
		byName: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if _, ok := c.byName[f]; ok {
			panic(fmt.Sprintf("ecs: field %q declared twice on %q", f, name))
		}
		fd := &Field{name: f}
		c.fields = append(c.fields, fd)
		c.byName[f] = fd
	}
	return c
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

// Has reports whether e carries the component.
func (c *Component) Has(e Entity) bool {
	w := int(e >> 6)
	return w < len(c.bits) && c.bits[w]&(1<<(e&63)) != 0
}

// Add attaches the component to e. Columns keep whatever value they held
// for e, which is zero for an entity that never had the component.
func (c *Component) Add(e Entity) {
	if c.Has(e) {
		return
	}
	w := int(e >> 6)
	if w >= len(c.bits) {
		c.bits = append(c.bits, make([]uint64, w+1-len(c.bits))...)
	}
	c.bits[w] |= 1 << (e & 63)
	c.count++
}

// Remove detaches the component from e and zeroes its columns.
func (c *Component) Remove(e Entity) {
	if !c.Has(e) {
		return
	}
	c.bits[e>>6] &^= 1 << (e & 63)
	c.count--
	for _, f := range c.fields {
		if int(e) < len(f.values) {
			f.values[e] = 0
		}
	}
}

// Len returns the number of entities with the component.
func (c *Component) Len() int {
	return c.count
}

// Field returns the column named name. It panics on an unknown name, since
// columns are fixed at registration.
func (c *Component) Field(name string) *Field {
	f, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("ecs: component %q has no field %q", c.name, name))
	}
	return f
}

// Each calls fn for every entity with the component, in ascending order.
func (c *Component) Each(fn func(e Entity)) {
	for w, word := range c.bits {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			fn(Entity(w<<6 | bit))
			word &= word - 1
		}
	}
}

// Field is a float64 column indexed by entity id.
type Field struct {
	name   string
	values []float64
}

// Name returns the column name.
func (f *Field) Name() string {
	return f.name
}

// Get returns the value for e, or zero if it was never set.
func (f *Field) Get(e Entity) float64 {
	if int(e) >= len(f.values) {
		return 0
	}
	return f.values[e]
}

// Set stores v for e, growing the column as needed.
func (f *Field) Set(e Entity, v float64) {
	if int(e) >= len(f.values) {
		n := max(int(e)+1, 2*len(f.values))
		grown := make([]float64, n)
		copy(grown, f.values)
		f.values = grown
	}
	f.values[e] = v
}
