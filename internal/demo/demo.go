// Package demo is the sample simulation served by `tickwire serve` and
// consumed by `tickwire connect` and `tickwire bench`.
//
// Entities drift inside a box, spin about the vertical axis and
// occasionally take damage. Three components are replicated:
//
//	transform  position (vector3), rotation (quaternion)
//	velocity   linear (vector3), spin (f32)
//	health     hp (u8)
package demo

import (
	"math"
	"math/rand/v2"

	"github.com/tickwire/tickwire/pkg/ecs"
	"github.com/tickwire/tickwire/pkg/replication"
)

// Bounds is the half-extent of the box entities move in. It stays inside
// the compressed vector range so quantized positions never clamp.
const Bounds = 40.0

// Options selects the wire encoding of the demo components.
type Options struct {
	// Compressed uses the quantized 5-byte codecs for vectors and
	// rotations instead of f64 lanes.
	Compressed bool
}

// World is the demo entity store.
type World struct {
	*ecs.World

	Transform *ecs.Component
	Velocity  *ecs.Component
	Health    *ecs.Component

	rng *rand.Rand
	net map[uint32]ecs.Entity
}

// NewWorld creates an empty demo world. seed drives the simulation's
// randomness.
func NewWorld(seed uint64) *World {
	w := ecs.NewWorld(256)
	return &World{
		World:     w,
		Transform: w.Register("transform", "x", "y", "z", "qx", "qy", "qz", "qw", "yaw"),
		Velocity:  w.Register("velocity", "x", "y", "z", "spin"),
		Health:    w.Register("health", "hp"),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		net:       make(map[uint32]ecs.Entity),
	}
}

// Populate spawns n moving entities at random positions.
func (w *World) Populate(n int) {
	for range n {
		e := w.Spawn()

		w.Transform.Add(e)
		w.set(w.Transform, e, "x", w.uniform(Bounds))
		w.set(w.Transform, e, "y", 0)
		w.set(w.Transform, e, "z", w.uniform(Bounds))
		w.set(w.Transform, e, "yaw", w.uniform(math.Pi))
		w.faceYaw(e)

		w.Velocity.Add(e)
		w.set(w.Velocity, e, "x", w.uniform(5))
		w.set(w.Velocity, e, "z", w.uniform(5))
		w.set(w.Velocity, e, "spin", w.uniform(1))

		w.Health.Add(e)
		w.set(w.Health, e, "hp", 100)
	}
}

// Step advances the simulation by dt seconds.
func (w *World) Step(dt float64) {
	x, z := w.Transform.Field("x"), w.Transform.Field("z")
	vx, vz := w.Velocity.Field("x"), w.Velocity.Field("z")
	yaw, spin := w.Transform.Field("yaw"), w.Velocity.Field("spin")
	hp := w.Health.Field("hp")

	w.Velocity.Each(func(e ecs.Entity) {
		if !w.Transform.Has(e) {
			return
		}
		px, v := bounce(x.Get(e)+vx.Get(e)*dt, vx.Get(e))
		x.Set(e, px)
		vx.Set(e, v)

		pz, v := bounce(z.Get(e)+vz.Get(e)*dt, vz.Get(e))
		z.Set(e, pz)
		vz.Set(e, v)

		yaw.Set(e, math.Mod(yaw.Get(e)+spin.Get(e)*dt, 2*math.Pi))
		w.faceYaw(e)
	})

	w.Health.Each(func(e ecs.Entity) {
		if w.rng.Float64() > 0.02 {
			return
		}
		h := hp.Get(e) - float64(1+w.rng.IntN(10))
		if h <= 0 {
			h = 100
		}
		hp.Set(e, h)
	})
}

// Registry builds the replication registry over the demo components.
// Writer and reader must use equal Options.
func (w *World) Registry(opts Options) (*replication.Registry, error) {
	reg := replication.NewRegistry()
	t, v, h := w.Transform, w.Velocity, w.Health

	tb := reg.Define("transform", t)
	vb := reg.Define("velocity", v)
	if opts.Compressed {
		tb.CompressedVector3("position", t.Field("x"), t.Field("y"), t.Field("z")).
			CompressedQuaternion("rotation", t.Field("qx"), t.Field("qy"), t.Field("qz"), t.Field("qw"))
		vb.CompressedVector3("linear", v.Field("x"), v.Field("y"), v.Field("z"))
	} else {
		tb.Vector3("position", t.Field("x"), t.Field("y"), t.Field("z")).
			Quaternion("rotation", t.Field("qx"), t.Field("qy"), t.Field("qz"), t.Field("qw"))
		vb.Vector3("linear", v.Field("x"), v.Field("y"), v.Field("z"))
	}
	vb.Field("spin", replication.KindF32, v.Field("spin"))

	if _, err := tb.Register(); err != nil {
		return nil, err
	}
	if _, err := vb.Register(); err != nil {
		return nil, err
	}
	if _, err := reg.Define("health", h).Field("hp", replication.KindU8, h.Field("hp")).Register(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Replicated lists every live entity for the snapshot writer. Network ids
// are entity ids; every entity takes part in periodic resync.
func (w *World) Replicated(owner uint32) []replication.Replicated {
	ents := w.Entities()
	out := make([]replication.Replicated, len(ents))
	for i, e := range ents {
		out[i] = replication.Replicated{
			Entity:     e,
			NetworkID:  uint32(e),
			OwnerIndex: owner,
			Resync:     true,
		}
	}
	return out
}

// Resolve implements replication.EntityResolver for a replica world,
// spawning a local entity the first time a network id is seen.
func (w *World) Resolve(networkID, ownerIndex uint32) (replication.Entity, error) {
	if e, ok := w.net[networkID]; ok && w.Alive(e) {
		return e, nil
	}
	e := w.Spawn()
	w.net[networkID] = e
	return e, nil
}

// Lookup returns the local entity replicating networkID.
func (w *World) Lookup(networkID uint32) (ecs.Entity, bool) {
	e, ok := w.net[networkID]
	return e, ok && w.Alive(e)
}

func (w *World) faceYaw(e ecs.Entity) {
	half := w.Transform.Field("yaw").Get(e) / 2
	w.set(w.Transform, e, "qx", 0)
	w.set(w.Transform, e, "qy", math.Sin(half))
	w.set(w.Transform, e, "qz", 0)
	w.set(w.Transform, e, "qw", math.Cos(half))
}

func (w *World) set(c *ecs.Component, e ecs.Entity, field string, v float64) {
	c.Field(field).Set(e, v)
}

func (w *World) uniform(r float64) float64 {
	return (w.rng.Float64()*2 - 1) * r
}

func bounce(p, v float64) (float64, float64) {
	switch {
	case p > Bounds:
		return 2*Bounds - p, -v
	case p < -Bounds:
		return -2*Bounds - p, -v
	default:
		return p, v
	}
}
