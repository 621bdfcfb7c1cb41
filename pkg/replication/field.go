package replication

import (
	"math"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// Kind is the wire representation of a scalar field.
type Kind uint8

const (
	KindF64 Kind = iota // 8 bytes, exact
	KindF32             // 4 bytes
	KindU8              // 1 byte, rounded and clamped to [0, 255]
	KindU16             // 2 bytes, rounded and clamped
	KindU32             // 4 bytes, rounded and clamped
	KindI32             // 4 bytes, rounded and clamped
)

// String returns the kind's short name.
func (k Kind) String() string {
	switch k {
	case KindF64:
		return "f64"
	case KindF32:
		return "f32"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindI32:
		return "i32"
	default:
		return "unknown"
	}
}

// Size returns the number of bytes a value of this kind occupies.
func (k Kind) Size() int {
	switch k {
	case KindU8:
		return 1
	case KindU16:
		return 2
	case KindF32, KindU32, KindI32:
		return 4
	default:
		return 8
	}
}

// normalize maps v to the value a reader will observe after a round trip.
func (k Kind) normalize(v float64) float64 {
	switch k {
	case KindF32:
		return float64(float32(v))
	case KindU8:
		return clampRound(v, 0, math.MaxUint8)
	case KindU16:
		return clampRound(v, 0, math.MaxUint16)
	case KindU32:
		return clampRound(v, 0, math.MaxUint32)
	case KindI32:
		return clampRound(v, math.MinInt32, math.MaxInt32)
	default:
		return v
	}
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func (k Kind) write(c *protocol.Cursor, v float64) {
	switch k {
	case KindF32:
		c.WriteF32(float32(v))
	case KindU8:
		c.WriteU8(uint8(v))
	case KindU16:
		c.WriteU16(uint16(v))
	case KindU32:
		c.WriteU32(uint32(v))
	case KindI32:
		c.WriteI32(int32(v))
	default:
		c.WriteF64(v)
	}
}

func (k Kind) read(c *protocol.Cursor) (float64, error) {
	switch k {
	case KindF32:
		v, err := c.ReadF32()
		return float64(v), err
	case KindU8:
		v, err := c.ReadU8()
		return float64(v), err
	case KindU16:
		v, err := c.ReadU16()
		return float64(v), err
	case KindU32:
		v, err := c.ReadU32()
		return float64(v), err
	case KindI32:
		v, err := c.ReadI32()
		return float64(v), err
	default:
		return c.ReadF64()
	}
}

// FieldCodec replicates one scalar column.
type FieldCodec struct {
	name  string
	kind  Kind
	value Scalar
	slot  Slot
}

// NewFieldCodec creates a codec for value, tracking changes in slot.
func NewFieldCodec(name string, kind Kind, value Scalar, slot Slot) *FieldCodec {
	return &FieldCodec{
		name:  name,
		kind:  kind,
		value: value,
		slot:  slot,
	}
}

// Write emits the field when forced, uncached, or changed.
func (f *FieldCodec) Write(c *protocol.Cursor, e Entity, force bool) bool {
	v := f.kind.normalize(f.value.Get(e))
	if !force && !f.slot.Changed(e, v) {
		return false
	}
	f.kind.write(c, v)
	f.slot.Store(e, v)
	return true
}

// Read consumes one value and assigns it to e.
func (f *FieldCodec) Read(c *protocol.Cursor, e Entity) error {
	v, err := f.kind.read(c)
	if err != nil {
		return err
	}
	f.value.Set(e, v)
	return nil
}

// Describe returns "name:kind".
func (f *FieldCodec) Describe() string {
	return f.name + ":" + f.kind.String()
}
