package replication

import (
	"math"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// Quantization parameters. Writer and reader must agree on every constant
// here; changing one is a wire-breaking change.
const (
	// LaneBits is the width of one packed lane: a sign bit and 9 magnitude bits.
	LaneBits = 10

	laneSign = 1 << (LaneBits - 1)
	laneMag  = laneSign - 1 // 511

	// VectorPrecision is the fixed-point multiplier of compressed vector
	// lanes. Values are stored in steps of 1/VectorPrecision.
	VectorPrecision = 10

	// VectorRange is the largest magnitude a compressed vector lane holds.
	// Larger values clamp.
	VectorRange = float64(laneMag) / VectorPrecision

	// QuaternionRange bounds the three smallest components of a unit
	// quaternion.
	QuaternionRange = 1 / math.Sqrt2

	quaternionScale = float64(laneMag) / QuaternionRange
)

func packLane(v, scale float64) uint32 {
	if math.IsNaN(v) {
		return 0
	}
	m := math.Round(math.Abs(v) * scale)
	if m > laneMag {
		m = laneMag
	}
	lane := uint32(m)
	if v < 0 && lane != 0 {
		lane |= laneSign
	}
	return lane
}

func unpackLane(lane uint32, scale float64) float64 {
	v := float64(lane&laneMag) / scale
	if lane&laneSign != 0 {
		v = -v
	}
	return v
}

// PackVector3 packs a vector into bits 29..0 of a u32: x in 29..20, y in
// 19..10, z in 9..0.
func PackVector3(x, y, z float64) uint32 {
	return packLane(x, VectorPrecision)<<(2*LaneBits) |
		packLane(y, VectorPrecision)<<LaneBits |
		packLane(z, VectorPrecision)
}

// UnpackVector3 reverses PackVector3.
func UnpackVector3(p uint32) (x, y, z float64) {
	const m = 1<<LaneBits - 1
	x = unpackLane(p>>(2*LaneBits)&m, VectorPrecision)
	y = unpackLane(p>>LaneBits&m, VectorPrecision)
	z = unpackLane(p&m, VectorPrecision)
	return x, y, z
}

// PackQuaternion packs a unit quaternion with the smallest-three scheme.
// Bits 31..30 hold the index of the largest-magnitude component, which is
// dropped. The other three follow in index order in bits 29..0. The
// quaternion is negated first if the largest component is negative, so the
// dropped value is always positive; q and -q are the same rotation.
func PackQuaternion(x, y, z, w float64) uint32 {
	q := [4]float64{x, y, z, w}

	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(q[i]) > math.Abs(q[largest]) {
			largest = i
		}
	}
	if q[largest] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}

	p := uint32(largest) << (3 * LaneBits)
	shift := 2 * LaneBits
	for i := range q {
		if i == largest {
			continue
		}
		p |= packLane(q[i], quaternionScale) << shift
		shift -= LaneBits
	}
	return p
}

// UnpackQuaternion reverses PackQuaternion. The dropped component is
// rebuilt from the unit-length constraint.
func UnpackQuaternion(p uint32) (x, y, z, w float64) {
	const m = 1<<LaneBits - 1
	largest := int(p >> (3 * LaneBits))

	var q [4]float64
	var sum float64
	shift := 2 * LaneBits
	for i := range q {
		if i == largest {
			continue
		}
		q[i] = unpackLane(p>>shift&m, quaternionScale)
		sum += q[i] * q[i]
		shift -= LaneBits
	}
	q[largest] = math.Sqrt(math.Max(0, 1-sum))

	return q[0], q[1], q[2], q[3]
}

// packedCodec is the shared shape of the compressed codecs: a one-byte mask
// with value 1, then one packed u32. Change detection runs on the packed
// value, so movement below the quantization step is not resent.
//
//	Field := ChangeMask:u8 Packed:u32
type packedCodec struct {
	name string
	slot Slot
}

func (p *packedCodec) write(c *protocol.Cursor, e Entity, force bool, packed uint32) bool {
	v := float64(packed)
	if !force && !p.slot.Changed(e, v) {
		return false
	}
	c.WriteU8(1)
	c.WriteU32(packed)
	p.slot.Store(e, v)
	return true
}

func (p *packedCodec) read(c *protocol.Cursor) (uint32, error) {
	mask, err := c.ReadU8()
	if err != nil {
		return 0, err
	}
	if mask != 1 {
		return 0, ErrInvalidMask
	}
	return c.ReadU32()
}

// CompressedVector3 replicates a vector in 5 bytes at a precision of 0.1 in
// the range ±VectorRange.
type CompressedVector3 struct {
	packedCodec
	x, y, z Scalar
}

// NewCompressedVector3 creates a compressed vector codec.
func NewCompressedVector3(cache *Cache, component, name string, x, y, z Scalar) *CompressedVector3 {
	return &CompressedVector3{
		packedCodec: packedCodec{name: name, slot: cache.Slot(component, name+"#v3")},
		x:           x,
		y:           y,
		z:           z,
	}
}

// Write implements Codec.
func (v *CompressedVector3) Write(c *protocol.Cursor, e Entity, force bool) bool {
	return v.write(c, e, force, PackVector3(v.x.Get(e), v.y.Get(e), v.z.Get(e)))
}

// Read implements Codec.
func (v *CompressedVector3) Read(c *protocol.Cursor, e Entity) error {
	p, err := v.read(c)
	if err != nil {
		return err
	}
	x, y, z := UnpackVector3(p)
	v.x.Set(e, x)
	v.y.Set(e, y)
	v.z.Set(e, z)
	return nil
}

// Describe returns "name:cv3".
func (v *CompressedVector3) Describe() string {
	return v.name + ":cv3"
}

// CompressedQuaternion replicates a unit quaternion in 5 bytes with the
// smallest-three scheme.
type CompressedQuaternion struct {
	packedCodec
	x, y, z, w Scalar
}

// NewCompressedQuaternion creates a compressed quaternion codec.
func NewCompressedQuaternion(cache *Cache, component, name string, x, y, z, w Scalar) *CompressedQuaternion {
	return &CompressedQuaternion{
		packedCodec: packedCodec{name: name, slot: cache.Slot(component, name+"#q3")},
		x:           x,
		y:           y,
		z:           z,
		w:           w,
	}
}

// Write implements Codec.
func (q *CompressedQuaternion) Write(c *protocol.Cursor, e Entity, force bool) bool {
	return q.write(c, e, force, PackQuaternion(q.x.Get(e), q.y.Get(e), q.z.Get(e), q.w.Get(e)))
}

// Read implements Codec.
func (q *CompressedQuaternion) Read(c *protocol.Cursor, e Entity) error {
	p, err := q.read(c)
	if err != nil {
		return err
	}
	x, y, z, w := UnpackQuaternion(p)
	q.x.Set(e, x)
	q.y.Set(e, y)
	q.z.Set(e, z)
	q.w.Set(e, w)
	return nil
}

// Describe returns "name:cq".
func (q *CompressedQuaternion) Describe() string {
	return q.name + ":cq"
}
