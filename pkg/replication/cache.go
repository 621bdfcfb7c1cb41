package replication

import "math"

// Cache remembers the last value written for every (component, field,
// entity) triple. It is owned by one writer and only ever touched on the
// write path.
//
// Storage is partitioned per entity: each entity has its own row of slots,
// so writers for different entities never share memory.
type Cache struct {
	slots map[slotKey]int
	rows  map[Entity]*cacheRow
}

type slotKey struct {
	component string
	field     string
}

type cacheRow struct {
	values []uint64
	known  []bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		slots: make(map[slotKey]int),
		rows:  make(map[Entity]*cacheRow),
	}
}

// Slot returns the column for (component, field), allocating it on first
// use. Asking twice for the same pair returns the same slot.
func (c *Cache) Slot(component, field string) Slot {
	k := slotKey{component, field}
	i, ok := c.slots[k]
	if !ok {
		i = len(c.slots)
		c.slots[k] = i
	}
	return Slot{cache: c, index: i}
}

// Forget drops every cached value of e. The next write of e sends full
// state. Call it when e stops being replicated.
func (c *Cache) Forget(e Entity) {
	delete(c.rows, e)
}

// Reset forgets every entity.
func (c *Cache) Reset() {
	clear(c.rows)
}

// Len returns the number of entities with cached values.
func (c *Cache) Len() int {
	return len(c.rows)
}

func (c *Cache) row(e Entity, grow bool) *cacheRow {
	r := c.rows[e]
	if r == nil {
		if !grow {
			return nil
		}
		r = &cacheRow{}
		c.rows[e] = r
	}
	if grow && len(r.values) < len(c.slots) {
		n := len(c.slots)
		r.values = append(r.values, make([]uint64, n-len(r.values))...)
		r.known = append(r.known, make([]bool, n-len(r.known))...)
	}
	return r
}

// Slot is one cached column.
type Slot struct {
	cache *Cache
	index int
}

// Changed reports whether v differs from the last value stored for e.
// A missing entry counts as changed. Values are compared bit for bit, so
// NaN compares equal to an identical NaN and -0 differs from +0.
func (s Slot) Changed(e Entity, v float64) bool {
	r := s.cache.row(e, false)
	if r == nil || s.index >= len(r.known) || !r.known[s.index] {
		return true
	}
	return r.values[s.index] != math.Float64bits(v)
}

// Store records v as the last value sent for e.
func (s Slot) Store(e Entity, v float64) {
	r := s.cache.row(e, true)
	r.values[s.index] = math.Float64bits(v)
	r.known[s.index] = true
}
