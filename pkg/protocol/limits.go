package protocol

// Allocation limits to prevent memory exhaustion via malicious length
// prefixes or counts.
const (
	// DefaultMaxAllocation caps a single length-prefixed string (64KB).
	// Handshake and control strings are short; anything larger is hostile.
	DefaultMaxAllocation = 64 * 1024

	// MaxEntitiesPerSnapshot caps the entity count of one snapshot.
	// The smallest entity block is 10 bytes (header + mask + one mask byte),
	// so a full frame cannot legitimately hold more.
	MaxEntitiesPerSnapshot = MaxPayloadSize / 10
)
