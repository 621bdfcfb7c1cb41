// Package replication implements the binary delta-serialization protocol
// that carries entity state from the authoritative peer to its replicas.
//
// Encoding is hierarchical. A snapshot holds entity blocks, an entity block
// holds component blocks, and a component block holds fields. Every level
// writes a change mask whose bit i is set iff sub-item i was written, in
// registration order, followed by the written sub-items:
//
//	Snapshot       := PeerIndex:u32 Tick:f64 EntityCount:u32 Entity*
//	Entity         := NetworkId:u32 OwnerIndex:u32 ChangeMask ComponentBlock*
//	ComponentBlock := ChangeMask Field*
//
// A block whose mask would be zero is erased with Cursor.ResetTo, so an
// unchanged entity contributes no bytes and is not counted. Change
// detection is driven by a last-sent Cache owned by the writer side; the
// reader only consumes what the masks announce.
//
// Bit order is implicit, not self-describing. Both peers must register the
// same schemas in the same order, which the handshake verifies with
// Registry.Fingerprint.
package replication
