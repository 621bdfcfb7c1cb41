package replication

import "github.com/tickwire/tickwire/pkg/protocol"

// Entity is a local entity handle in the store being replicated.
type Entity uint32

// Scalar is one structure-of-arrays column of an entity store.
type Scalar interface {
	Get(e Entity) float64
	Set(e Entity, v float64)
}

// Presence reports whether an entity has a component.
type Presence interface {
	Has(e Entity) bool
}

// Adder is implemented by a Presence that can attach its component to an
// entity. Readers use it when a block arrives for a component the local
// entity does not have yet.
type Adder interface {
	Add(e Entity)
}

// Codec writes and reads one sub-item of a block.
//
// Write emits the sub-item when it changed since it was last sent for e, or
// when force is set, and reports whether it wrote anything. A Codec that
// reports false must leave the cursor where it found it.
//
// Read consumes exactly the bytes a successful Write produced.
type Codec interface {
	Write(c *protocol.Cursor, e Entity, force bool) bool
	Read(c *protocol.Cursor, e Entity) error
}

// Describer is implemented by codecs that can describe their wire layout.
// The description feeds the registry fingerprint.
type Describer interface {
	Describe() string
}

// Clock is the simulation clock consulted once per written snapshot.
type Clock interface {
	// Tick returns the current simulation tick.
	Tick() uint64
	// Time returns the simulation time written into the snapshot header.
	Time() float64
}

// EntityResolver maps a network identity to a local entity on the reading
// side, spawning one if needed.
type EntityResolver interface {
	Resolve(networkID, ownerIndex uint32) (Entity, error)
}

// ResolverFunc adapts a function to EntityResolver.
type ResolverFunc func(networkID, ownerIndex uint32) (Entity, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(networkID, ownerIndex uint32) (Entity, error) {
	return f(networkID, ownerIndex)
}

// Replicated is one entry of the entity list handed to the snapshot writer.
type Replicated struct {
	Entity     Entity
	NetworkID  uint32
	OwnerIndex uint32

	// Resync marks the entity for periodic full resync. On ticks where the
	// ResyncPolicy is due, its dirty tracking is bypassed.
	Resync bool
}
