package replication

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// Snapshot is one decoded packet.
type Snapshot struct {
	PeerIndex uint32
	Tick      float64
	Entities  []EntityBlock
}

// WriteStats describes one written packet.
type WriteStats struct {
	Tick       uint64 // Clock tick the packet was written at
	Considered int    // Entities offered to the writer
	Written    int    // Entity blocks present in the packet
	Bytes      int    // Packet length
	Forced     bool   // Every entity was written in full
	Resync     bool   // Periodic resync was due
}

// WriteSnapshot writes the entity count followed by one block per entity
// that produced bytes. An entity is forced when force is set, or when
// resync is set and the entity is flagged for periodic resync.
// It returns the number of blocks written.
//
//	EntityCount:u32 Entity*
func WriteSnapshot(c *protocol.Cursor, reg *Registry, entities []Replicated, force, resync bool) uint32 {
	count := c.SpaceU32()

	var n uint32
	for _, r := range entities {
		if WriteEntity(c, reg, r.NetworkID, r.OwnerIndex, r.Entity, force || (resync && r.Resync)) {
			n++
		}
	}

	count.Set(n)
	return n
}

// ReadSnapshot reads the entity count and that many entity blocks.
func ReadSnapshot(c *protocol.Cursor, reg *Registry, resolver EntityResolver) ([]EntityBlock, error) {
	n, err := c.ReadU32()
	if err != nil {
		return nil, &DesyncError{Stage: StageHeader, Err: err}
	}
	if n > protocol.MaxEntitiesPerSnapshot {
		return nil, &DesyncError{Stage: StageHeader, Err: ErrTooManyEntities}
	}

	// The smallest block is a header and a one-byte mask.
	hint := min(int(n), c.Remaining()/9)
	blocks := make([]EntityBlock, 0, hint)
	for i := uint32(0); i < n; i++ {
		b, err := ReadEntity(c, reg, resolver)
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Registry lists the replicated components. Its cache holds the
	// last-sent values.
	Registry *Registry

	// Peers resolves Origin to the peer index in the packet header.
	// A new table is created when nil.
	Peers *PeerTable

	// Origin is the writing peer. A random id is used when zero.
	Origin uuid.UUID

	// Policy is the periodic resync cadence.
	Policy ResyncPolicy
}

// Writer produces snapshot packets, one per tick.
//
//	Snapshot := PeerIndex:u32 Tick:f64 EntityCount:u32 Entity*
//
// Write must be called from a single goroutine. ForceNext may be called
// from any goroutine.
type Writer struct {
	reg    *Registry
	peers  *PeerTable
	origin uuid.UUID
	policy ResyncPolicy
	cursor *protocol.Cursor
	force  atomic.Bool
}

// NewWriter creates a writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Peers == nil {
		cfg.Peers = NewPeerTable()
	}
	if cfg.Origin == uuid.Nil {
		cfg.Origin = uuid.New()
	}
	cfg.Peers.Add(cfg.Origin)

	return &Writer{
		reg:    cfg.Registry,
		peers:  cfg.Peers,
		origin: cfg.Origin,
		policy: cfg.Policy,
		cursor: protocol.NewCursor(),
	}
}

// Origin returns the writing peer's id.
func (w *Writer) Origin() uuid.UUID {
	return w.origin
}

// PeerIndex returns the index written into packet headers.
func (w *Writer) PeerIndex() uint32 {
	return w.peers.Add(w.origin)
}

// Registry returns the writer's registry.
func (w *Writer) Registry() *Registry {
	return w.reg
}

// ForceNext makes the next Write send every entity in full. It is used
// when a peer joins or asks for a resync.
func (w *Writer) ForceNext() {
	w.force.Store(true)
}

// Forget drops the cached state of e. Call it when e is despawned or
// leaves replication.
func (w *Writer) Forget(e Entity) {
	w.reg.cache.Forget(e)
}

// Write encodes one packet for the current tick of clock. The returned
// slice is owned by the caller.
func (w *Writer) Write(clock Clock, entities []Replicated) ([]byte, WriteStats) {
	tick := clock.Tick()
	stats := WriteStats{
		Tick:       tick,
		Considered: len(entities),
		Forced:     w.force.Swap(false),
		Resync:     w.policy.Due(tick),
	}

	c := w.cursor
	c.Reset()
	c.WriteU32(w.PeerIndex())
	c.WriteF64(clock.Time())
	stats.Written = int(WriteSnapshot(c, w.reg, entities, stats.Forced, stats.Resync))

	packet := c.Slice()
	stats.Bytes = len(packet)
	return packet, stats
}

// Reader decodes snapshot packets into a local store.
// It never touches the last-sent cache.
type Reader struct {
	reg      *Registry
	resolver EntityResolver
}

// NewReader creates a reader that applies blocks to the entities returned
// by resolver.
func NewReader(reg *Registry, resolver EntityResolver) *Reader {
	return &Reader{reg: reg, resolver: resolver}
}

// Read decodes packet. Blocks before a failure have already been applied
// when an error is returned. Every error is a *DesyncError.
func (r *Reader) Read(packet []byte) (*Snapshot, error) {
	c := protocol.NewCursorFrom(packet)
	s := &Snapshot{}

	var err error
	if s.PeerIndex, err = c.ReadU32(); err != nil {
		return nil, &DesyncError{Stage: StageHeader, Err: err}
	}
	if s.Tick, err = c.ReadF64(); err != nil {
		return nil, &DesyncError{Stage: StageHeader, Err: err}
	}

	s.Entities, err = ReadSnapshot(c, r.reg, r.resolver)
	if err != nil {
		return s, err
	}
	if !c.EOF() {
		return s, &DesyncError{Stage: StageTrailer, Err: ErrTrailingBytes}
	}
	return s, nil
}
