// Package protocol implements the byte-level layer of the tickwire wire
// protocol: the Cursor used by every encoder and decoder, and the framed
// messages that carry snapshots between peers.
//
// # Cursor
//
// A Cursor is a position-tracked view over a growable byte buffer. Writers
// append at the position; readers consume from it. Space can be reserved
// for a value that is only known later (a change mask computed after its
// sub-items were written), and the cursor can be reset to a saved Mark,
// which erases everything written since. This checkpoint/rewind pair is how
// an unchanged block contributes zero bytes to a packet.
//
// Fixed-width integers and floats are big-endian. Varints are protobuf
// style; strings are varint length-prefixed.
//
// # Wire Format
//
// All messages are framed with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHandshake (0x00): Connection setup
//   - FrameSnapshot (0x01): Server → Client snapshot packet
//   - FrameControl (0x02): Ping/pong, resync request, close
//   - FrameAck (0x03): Last applied tick
//   - FrameError (0x04): Error message
//
// The snapshot payload itself is produced by package replication.
//
// # Handshake
//
//	Client                          Server
//	  │                                │
//	  │──── ClientHello ─────────────>│
//	  │  (version, peer, fingerprint) │
//	  │                                │
//	  │<──── ServerHello ─────────────│
//	  │  (status, peer index, rate)   │
//	  │                                │
//
// A fingerprint mismatch means the two component registries disagree on bit
// order, so the server refuses the peer instead of streaming undecodable
// snapshots.
package protocol
