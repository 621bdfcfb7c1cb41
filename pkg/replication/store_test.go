package replication

import (
	"math"
	"testing"
)

// column is a map-backed Scalar.
type column map[Entity]float64

func (c column) Get(e Entity) float64    { return c[e] }
func (c column) Set(e Entity, v float64) { c[e] = v }

// presence is a map-backed Presence and Adder.
type presence map[Entity]bool

func (p presence) Has(e Entity) bool { return p[e] }
func (p presence) Add(e Entity)      { p[e] = true }

// always is a Presence every entity has.
type always struct{}

func (always) Has(Entity) bool { return true }

// transformStore holds a position and a rotation per entity.
type transformStore struct {
	has            presence
	px, py, pz     column
	qx, qy, qz, qw column
}

func newTransformStore() *transformStore {
	return &transformStore{
		has: presence{},
		px:  column{}, py: column{}, pz: column{},
		qx: column{}, qy: column{}, qz: column{}, qw: column{},
	}
}

func (s *transformStore) put(e Entity, pos [3]float64, rot [4]float64) {
	s.has[e] = true
	s.px[e], s.py[e], s.pz[e] = pos[0], pos[1], pos[2]
	s.qx[e], s.qy[e], s.qz[e], s.qw[e] = rot[0], rot[1], rot[2], rot[3]
}

// register defines a transform component on reg.
func (s *transformStore) register(t *testing.T, reg *Registry, compressed bool) {
	t.Helper()
	b := reg.Define("transform", s.has)
	if compressed {
		b.CompressedVector3("position", s.px, s.py, s.pz).
			CompressedQuaternion("rotation", s.qx, s.qy, s.qz, s.qw)
	} else {
		b.Vector3("position", s.px, s.py, s.pz).
			Quaternion("rotation", s.qx, s.qy, s.qz, s.qw)
	}
	if _, err := b.Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

// healthStore holds a single u8 field per entity.
type healthStore struct {
	has presence
	hp  column
}

func newHealthStore() *healthStore {
	return &healthStore{has: presence{}, hp: column{}}
}

func (s *healthStore) register(t *testing.T, reg *Registry) {
	t.Helper()
	if _, err := reg.Define("health", s.has).Field("hp", KindU8, s.hp).Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

// netMap resolves network ids to local entities, spawning on first sight.
type netMap struct {
	next Entity
	ids  map[uint32]Entity
}

func newNetMap() *netMap {
	return &netMap{next: 100, ids: make(map[uint32]Entity)}
}

func (m *netMap) Resolve(networkID, ownerIndex uint32) (Entity, error) {
	e, ok := m.ids[networkID]
	if !ok {
		e = m.next
		m.next++
		m.ids[networkID] = e
	}
	return e, nil
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
