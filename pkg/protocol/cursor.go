package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrBufferOverrun is returned when a read would consume bytes past the
// written length. Reader and writer run in lock-step, so an overrun means the
// two sides disagree about the stream and the packet must be dropped.
var ErrBufferOverrun = fmt.Errorf("protocol: buffer overrun: %w", io.ErrUnexpectedEOF)

// ErrVarintOverflow is returned when a varint does not terminate within 10 bytes.
var ErrVarintOverflow = errors.New("protocol: varint overflow")

// ErrAllocationTooLarge is returned when a length prefix exceeds DefaultMaxAllocation.
var ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")

// Mark is a saved cursor position.
type Mark int

// Cursor is a position-tracked view over a growable byte buffer.
//
// Writes append at the current position, discarding anything that was
// written beyond it. Reads consume from the current position. The invariant
// position <= len(buffer) holds at all times.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor creates an empty cursor with a default initial capacity.
func NewCursor() *Cursor {
	return &Cursor{
		buf: make([]byte, 0, 1024),
	}
}

// NewCursorWithCap creates an empty cursor with the specified initial capacity.
func NewCursorWithCap(cap int) *Cursor {
	return &Cursor{
		buf: make([]byte, 0, cap),
	}
}

// NewCursorFrom creates a cursor positioned at the start of data, for reading.
// The cursor does not copy data.
func NewCursorFrom(data []byte) *Cursor {
	return &Cursor{buf: data}
}

// Position returns the current position.
func (c *Cursor) Position() int {
	return c.pos
}

// Len returns the number of bytes in the buffer.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Remaining returns the number of unread bytes after the position.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// EOF returns true if the position is at the end of the buffer.
func (c *Cursor) EOF() bool {
	return c.pos >= len(c.buf)
}

// Mark returns the current position for a later ResetTo.
func (c *Cursor) Mark() Mark {
	return Mark(c.pos)
}

// ResetTo moves the position back to m and discards everything written
// after it, including nested writes.
func (c *Cursor) ResetTo(m Mark) {
	p := int(m)
	if p < 0 || p > len(c.buf) {
		panic(fmt.Sprintf("protocol: reset to %d outside buffer of %d bytes", p, len(c.buf)))
	}
	c.pos = p
	c.buf = c.buf[:p]
}

// Reset empties the cursor, reusing the underlying buffer.
func (c *Cursor) Reset() {
	c.ResetTo(0)
}

// Bytes returns the bytes in [0, position). The returned slice aliases the
// cursor and is valid until the next write or reset.
func (c *Cursor) Bytes() []byte {
	return c.buf[:c.pos]
}

// Slice returns a copy of the bytes in [0, position) and rewinds the cursor
// to position 0 so it can be reused for the next packet.
func (c *Cursor) Slice() []byte {
	out := make([]byte, c.pos)
	copy(out, c.buf[:c.pos])
	c.Reset()
	return out
}

// grow returns the n bytes at the position, extending the buffer.
func (c *Cursor) grow(n int) []byte {
	if cap(c.buf)-c.pos < n {
		nb := make([]byte, c.pos, 2*cap(c.buf)+n)
		copy(nb, c.buf[:c.pos])
		c.buf = nb
	}
	c.buf = c.buf[:c.pos+n]
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

// take returns the next n unread bytes and advances past them.
func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrBufferOverrun
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Reserved is a slot reserved by one of the Space methods. Its value is
// filled in later with Set, once it is known.
type Reserved struct {
	c     *Cursor
	off   int
	width int
}

// Mark returns the position before the reservation. Resetting to it erases
// the slot and everything written after it.
func (r Reserved) Mark() Mark {
	return Mark(r.off)
}

// Width returns the slot width in bytes.
func (r Reserved) Width() int {
	return r.width
}

// Set writes v into the reserved slot, truncated to the slot width.
func (r Reserved) Set(v uint32) {
	b := r.c.buf[r.off : r.off+r.width]
	switch r.width {
	case 1:
		b[0] = byte(v)
	case 2:
		b[0], b[1] = byte(v>>8), byte(v)
	case 4:
		b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	}
}

// SpaceU8 reserves one byte.
func (c *Cursor) SpaceU8() Reserved {
	return c.space(1)
}

// SpaceU16 reserves two bytes.
func (c *Cursor) SpaceU16() Reserved {
	return c.space(2)
}

// SpaceU32 reserves four bytes.
func (c *Cursor) SpaceU32() Reserved {
	return c.space(4)
}

func (c *Cursor) space(width int) Reserved {
	off := c.pos
	c.grow(width)
	return Reserved{c: c, off: off, width: width}
}

// WriteU8 appends a single byte.
func (c *Cursor) WriteU8(v uint8) {
	c.grow(1)[0] = v
}

// WriteBytes appends raw bytes.
func (c *Cursor) WriteBytes(p []byte) {
	copy(c.grow(len(p)), p)
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (c *Cursor) WriteBool(v bool) {
	if v {
		c.WriteU8(0x01)
	} else {
		c.WriteU8(0x00)
	}
}

// WriteU16 appends a uint16 in big-endian byte order.
func (c *Cursor) WriteU16(v uint16) {
	b := c.grow(2)
	b[0], b[1] = byte(v>>8), byte(v)
}

// WriteU32 appends a uint32 in big-endian byte order.
func (c *Cursor) WriteU32(v uint32) {
	b := c.grow(4)
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// WriteU64 appends a uint64 in big-endian byte order.
func (c *Cursor) WriteU64(v uint64) {
	b := c.grow(8)
	b[0], b[1], b[2], b[3] = byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32)
	b[4], b[5], b[6], b[7] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// WriteI16 appends an int16 in big-endian byte order.
func (c *Cursor) WriteI16(v int16) {
	c.WriteU16(uint16(v))
}

// WriteI32 appends an int32 in big-endian byte order.
func (c *Cursor) WriteI32(v int32) {
	c.WriteU32(uint32(v))
}

// WriteF32 appends a float32 in IEEE 754 format (big-endian).
func (c *Cursor) WriteF32(v float32) {
	c.WriteU32(math.Float32bits(v))
}

// WriteF64 appends a float64 in IEEE 754 format (big-endian).
func (c *Cursor) WriteF64(v float64) {
	c.WriteU64(math.Float64bits(v))
}

// WriteUvarint appends an unsigned varint (protobuf style).
func (c *Cursor) WriteUvarint(v uint64) {
	for v >= 0x80 {
		c.WriteU8(byte(v) | 0x80)
		v >>= 7
	}
	c.WriteU8(byte(v))
}

// WriteSvarint appends a signed varint using ZigZag encoding.
func (c *Cursor) WriteSvarint(v int64) {
	c.WriteUvarint(uint64((v << 1) ^ (v >> 63)))
}

// WriteString appends a length-prefixed UTF-8 string.
// Format: varint length + string bytes
func (c *Cursor) WriteString(s string) {
	c.WriteUvarint(uint64(len(s)))
	copy(c.grow(len(s)), s)
}

// ReadU8 reads a single byte.
func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the cursor.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	return c.take(n)
}

// ReadBool reads a boolean. Any non-zero byte is true.
func (c *Cursor) ReadBool() (bool, error) {
	b, err := c.ReadU8()
	return b != 0, err
}

// ReadU16 reads a uint16 in big-endian byte order.
func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU32 reads a uint32 in big-endian byte order.
func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadU64 reads a uint64 in big-endian byte order.
func (c *Cursor) ReadU64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7]), nil
}

// ReadI16 reads an int16 in big-endian byte order.
func (c *Cursor) ReadI16() (int16, error) {
	v, err := c.ReadU16()
	return int16(v), err
}

// ReadI32 reads an int32 in big-endian byte order.
func (c *Cursor) ReadI32() (int32, error) {
	v, err := c.ReadU32()
	return int32(v), err
}

// ReadF32 reads a float32 in IEEE 754 format (big-endian).
func (c *Cursor) ReadF32() (float32, error) {
	v, err := c.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadF64 reads a float64 in IEEE 754 format (big-endian).
func (c *Cursor) ReadF64() (float64, error) {
	v, err := c.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadUvarint reads an unsigned varint.
func (c *Cursor) ReadUvarint() (uint64, error) {
	var v uint64
	var shift uint

	for {
		b, err := c.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, ErrVarintOverflow
		}
	}
}

// ReadSvarint reads a signed varint using ZigZag decoding.
func (c *Cursor) ReadSvarint() (int64, error) {
	uv, err := c.ReadUvarint()
	if err != nil {
		return 0, err
	}
	v := int64(uv >> 1)
	if uv&1 != 0 {
		v = ^v
	}
	return v, nil
}

// ReadString reads a length-prefixed UTF-8 string.
// Returns ErrAllocationTooLarge if the string exceeds DefaultMaxAllocation.
func (c *Cursor) ReadString() (string, error) {
	length, err := c.ReadUvarint()
	if err != nil {
		return "", err
	}
	if length > uint64(c.Remaining()) {
		return "", ErrBufferOverrun
	}
	if length > DefaultMaxAllocation {
		return "", ErrAllocationTooLarge
	}
	b, err := c.take(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
