package replication

import (
	"math"
	"testing"
)

func TestCacheSlotInterning(t *testing.T) {
	c := NewCache()
	a := c.Slot("transform", "position.x")
	b := c.Slot("transform", "position.y")
	again := c.Slot("transform", "position.x")

	if a.index == b.index {
		t.Errorf("distinct fields share slot %d", a.index)
	}
	if a.index != again.index {
		t.Errorf("Slot() = %d on second call, want %d", again.index, a.index)
	}
}

func TestCacheChanged(t *testing.T) {
	c := NewCache()
	s := c.Slot("c", "f")

	if !s.Changed(1, 0) {
		t.Error("Changed() on empty cache = false, want true")
	}

	s.Store(1, 2.5)
	tests := []struct {
		name string
		e    Entity
		v    float64
		want bool
	}{
		{"same value", 1, 2.5, false},
		{"new value", 1, 2.6, true},
		{"other entity", 2, 2.5, true},
		{"negative zero", 1, math.Copysign(0, -1), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Changed(tc.e, tc.v); got != tc.want {
				t.Errorf("Changed(%d, %v) = %v, want %v", tc.e, tc.v, got, tc.want)
			}
		})
	}
}

func TestCacheNaNIsStable(t *testing.T) {
	c := NewCache()
	s := c.Slot("c", "f")
	s.Store(1, math.NaN())
	if s.Changed(1, math.NaN()) {
		t.Error("Changed(NaN) after Store(NaN) = true, want false")
	}
}

func TestCacheSlotAddedLater(t *testing.T) {
	c := NewCache()
	first := c.Slot("c", "a")
	first.Store(1, 1)

	second := c.Slot("c", "b")
	if !second.Changed(1, 0) {
		t.Error("Changed() on slot allocated after the row = false, want true")
	}
	second.Store(1, 0)
	if second.Changed(1, 0) {
		t.Error("Changed() after Store = true, want false")
	}
	if first.Changed(1, 1) {
		t.Error("growing the row lost the first slot")
	}
}

func TestCacheForget(t *testing.T) {
	c := NewCache()
	s := c.Slot("c", "f")
	s.Store(1, 7)
	s.Store(2, 7)

	c.Forget(1)

	if !s.Changed(1, 7) {
		t.Error("Changed() after Forget = false, want true")
	}
	if s.Changed(2, 7) {
		t.Error("Forget(1) cleared entity 2")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", c.Len())
	}
}
