package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common peer and server error conditions.
var (
	// ErrServerClosed is returned when an operation is attempted on a closed server.
	ErrServerClosed = errors.New("server: server closed")

	// ErrMaxPeersReached is returned when the maximum number of peers is reached.
	ErrMaxPeersReached = errors.New("server: max peers reached")

	// ErrInvalidHandshake is returned when the WebSocket handshake fails.
	ErrInvalidHandshake = errors.New("server: invalid handshake")

	// ErrSchemaMismatch is returned when a peer's registry fingerprint differs.
	ErrSchemaMismatch = errors.New("server: schema fingerprint mismatch")

	// ErrSendQueueFull is returned when a peer's send queue is full and a frame is dropped.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrConnectionClosed is returned when the WebSocket connection is closed.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrUnexpectedFrame is returned when a peer sends a frame type it may not send.
	ErrUnexpectedFrame = errors.New("server: unexpected frame type")
)

// PeerError wraps an error with peer context for debugging.
type PeerError struct {
	PeerID uuid.UUID
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with peer context.
func (e *PeerError) Error() string {
	if e.PeerID == uuid.Nil {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: peer %s: %s: %v", e.PeerID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *PeerError) Unwrap() error {
	return e.Err
}

// NewPeerError creates a new PeerError.
func NewPeerError(peerID uuid.UUID, op string, err error) *PeerError {
	return &PeerError{
		PeerID: peerID,
		Op:     op,
		Err:    err,
	}
}
