package protocol

import (
	"github.com/google/uuid"
)

// HandshakeStatus represents the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01
	HandshakeSchemaMismatch  HandshakeStatus = 0x02 // Component registries differ
	HandshakeServerBusy      HandshakeStatus = 0x03
	HandshakeInvalidFormat   HandshakeStatus = 0x04 // Malformed handshake message
	HandshakeInternalError   HandshakeStatus = 0x05 // Server error
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeSchemaMismatch:
		return "SchemaMismatch"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ProtocolVersion represents a protocol version as major.minor.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the current protocol version.
var CurrentVersion = ProtocolVersion{Major: 1, Minor: 0}

// Compatible reports whether two versions can talk to each other.
// Only the major version is part of the wire contract.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// ClientHello is sent by the client after the WebSocket connection is established.
type ClientHello struct {
	Version     ProtocolVersion // Protocol version
	PeerID      uuid.UUID       // Stable peer identity (zero for a fresh peer)
	Fingerprint uint64          // Client's schema registry fingerprint
	LastTick    uint64          // Last applied tick when reconnecting
}

// ServerHello is the server's response to ClientHello.
type ServerHello struct {
	Status      HandshakeStatus // Handshake result
	PeerID      uuid.UUID       // Identity assigned to (or confirmed for) the peer
	PeerIndex   uint32          // Small integer index used on the wire
	ServerIndex uint32          // Peer index the server writes into snapshot headers
	Fingerprint uint64          // Server's schema registry fingerprint
	TickRate    uint16          // Snapshots per second
	ServerTime  uint64          // Server time in Unix milliseconds
}

// EncodeClientHello encodes a ClientHello to bytes.
func EncodeClientHello(ch *ClientHello) []byte {
	c := NewCursorWithCap(32)
	EncodeClientHelloTo(c, ch)
	return c.Bytes()
}

// EncodeClientHelloTo encodes a ClientHello using the provided cursor.
func EncodeClientHelloTo(c *Cursor, ch *ClientHello) {
	c.WriteU8(ch.Version.Major)
	c.WriteU8(ch.Version.Minor)
	c.WriteBytes(ch.PeerID[:])
	c.WriteU64(ch.Fingerprint)
	c.WriteUvarint(ch.LastTick)
}

// DecodeClientHello decodes a ClientHello from bytes.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	return DecodeClientHelloFrom(NewCursorFrom(data))
}

// DecodeClientHelloFrom decodes a ClientHello from a cursor.
func DecodeClientHelloFrom(c *Cursor) (*ClientHello, error) {
	ch := &ClientHello{}

	major, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	minor, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	ch.Version = ProtocolVersion{Major: major, Minor: minor}

	id, err := c.ReadBytes(len(ch.PeerID))
	if err != nil {
		return nil, err
	}
	copy(ch.PeerID[:], id)

	ch.Fingerprint, err = c.ReadU64()
	if err != nil {
		return nil, err
	}

	ch.LastTick, err = c.ReadUvarint()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// EncodeServerHello encodes a ServerHello to bytes.
func EncodeServerHello(sh *ServerHello) []byte {
	c := NewCursorWithCap(48)
	EncodeServerHelloTo(c, sh)
	return c.Bytes()
}

// EncodeServerHelloTo encodes a ServerHello using the provided cursor.
func EncodeServerHelloTo(c *Cursor, sh *ServerHello) {
	c.WriteU8(byte(sh.Status))
	c.WriteBytes(sh.PeerID[:])
	c.WriteU32(sh.PeerIndex)
	c.WriteU32(sh.ServerIndex)
	c.WriteU64(sh.Fingerprint)
	c.WriteU16(sh.TickRate)
	c.WriteU64(sh.ServerTime)
}

// DecodeServerHello decodes a ServerHello from bytes.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	return DecodeServerHelloFrom(NewCursorFrom(data))
}

// DecodeServerHelloFrom decodes a ServerHello from a cursor.
func DecodeServerHelloFrom(c *Cursor) (*ServerHello, error) {
	sh := &ServerHello{}

	status, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	sh.Status = HandshakeStatus(status)

	id, err := c.ReadBytes(len(sh.PeerID))
	if err != nil {
		return nil, err
	}
	copy(sh.PeerID[:], id)

	if sh.PeerIndex, err = c.ReadU32(); err != nil {
		return nil, err
	}
	if sh.ServerIndex, err = c.ReadU32(); err != nil {
		return nil, err
	}
	if sh.Fingerprint, err = c.ReadU64(); err != nil {
		return nil, err
	}
	if sh.TickRate, err = c.ReadU16(); err != nil {
		return nil, err
	}
	if sh.ServerTime, err = c.ReadU64(); err != nil {
		return nil, err
	}

	return sh, nil
}

// NewClientHello creates a new ClientHello with the current version.
func NewClientHello(peerID uuid.UUID, fingerprint uint64) *ClientHello {
	return &ClientHello{
		Version:     CurrentVersion,
		PeerID:      peerID,
		Fingerprint: fingerprint,
	}
}

// NewServerHelloError creates a ServerHello with an error status.
func NewServerHelloError(status HandshakeStatus, fingerprint uint64) *ServerHello {
	return &ServerHello{
		Status:      status,
		Fingerprint: fingerprint,
	}
}
