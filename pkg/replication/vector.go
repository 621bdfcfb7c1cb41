package replication

import "github.com/tickwire/tickwire/pkg/protocol"

// NewVector3 creates an uncompressed vector: a composite of three f64 fields
// named name.x, name.y and name.z under a one-byte mask. Only the lanes that
// changed are written.
//
//	Field := ChangeMask:u8 [x:f64] [y:f64] [z:f64]
func NewVector3(cache *Cache, component, name string, x, y, z Scalar) *Composite {
	m, _ := NewComposite(name,
		NewFieldCodec("x", KindF64, x, cache.Slot(component, name+".x")),
		NewFieldCodec("y", KindF64, y, cache.Slot(component, name+".y")),
		NewFieldCodec("z", KindF64, z, cache.Slot(component, name+".z")),
	)
	return m
}

// QuaternionCodec replicates a rotation as four f64 lanes written as a unit.
// There is no mask: a rotation is sent whole whenever any lane changed,
// since a reader holding a mix of old and new lanes would not have a unit
// quaternion.
//
//	Field := x:f64 y:f64 z:f64 w:f64
type QuaternionCodec struct {
	name  string
	lanes [4]Scalar
	slots [4]Slot
}

// NewQuaternion creates an uncompressed quaternion codec.
func NewQuaternion(cache *Cache, component, name string, x, y, z, w Scalar) *QuaternionCodec {
	return &QuaternionCodec{
		name:  name,
		lanes: [4]Scalar{x, y, z, w},
		slots: [4]Slot{
			cache.Slot(component, name+".x"),
			cache.Slot(component, name+".y"),
			cache.Slot(component, name+".z"),
			cache.Slot(component, name+".w"),
		},
	}
}

// Write implements Codec.
func (q *QuaternionCodec) Write(c *protocol.Cursor, e Entity, force bool) bool {
	var v [4]float64
	changed := force
	for i, lane := range q.lanes {
		v[i] = lane.Get(e)
		if !changed && q.slots[i].Changed(e, v[i]) {
			changed = true
		}
	}
	if !changed {
		return false
	}
	for i := range v {
		c.WriteF64(v[i])
		q.slots[i].Store(e, v[i])
	}
	return true
}

// Read implements Codec.
func (q *QuaternionCodec) Read(c *protocol.Cursor, e Entity) error {
	var v [4]float64
	for i := range v {
		f, err := c.ReadF64()
		if err != nil {
			return err
		}
		v[i] = f
	}
	for i, lane := range q.lanes {
		lane.Set(e, v[i])
	}
	return nil
}

// Describe returns "name:q4".
func (q *QuaternionCodec) Describe() string {
	return q.name + ":q4"
}
