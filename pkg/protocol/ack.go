package protocol

// Ack is sent by the client after applying a snapshot.
// The server uses it to detect lagging peers; snapshots are never
// retransmitted, so a missing ack is answered by periodic resync, not replay.
type Ack struct {
	LastTick uint64 // Last applied tick
	Applied  uint32 // Entity blocks applied from that snapshot
}

// EncodeAck encodes an Ack to bytes.
func EncodeAck(ack *Ack) []byte {
	c := NewCursorWithCap(8)
	EncodeAckTo(c, ack)
	return c.Bytes()
}

// EncodeAckTo encodes an Ack using the provided cursor.
func EncodeAckTo(c *Cursor, ack *Ack) {
	c.WriteUvarint(ack.LastTick)
	c.WriteUvarint(uint64(ack.Applied))
}

// DecodeAck decodes an Ack from bytes.
func DecodeAck(data []byte) (*Ack, error) {
	return DecodeAckFrom(NewCursorFrom(data))
}

// DecodeAckFrom decodes an Ack from a cursor.
func DecodeAckFrom(c *Cursor) (*Ack, error) {
	lastTick, err := c.ReadUvarint()
	if err != nil {
		return nil, err
	}

	applied, err := c.ReadUvarint()
	if err != nil {
		return nil, err
	}

	return &Ack{
		LastTick: lastTick,
		Applied:  uint32(applied),
	}, nil
}

// NewAck creates a new Ack.
func NewAck(lastTick uint64, applied uint32) *Ack {
	return &Ack{
		LastTick: lastTick,
		Applied:  applied,
	}
}
