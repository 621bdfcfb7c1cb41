package replication

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnknownComponent is returned when an entity mask has a bit past the
	// end of the registry. Bit order is implicit, so the rest of the packet
	// cannot be located.
	ErrUnknownComponent = errors.New("replication: unknown component bit")

	// ErrInvalidMask is returned when a component or field mask has a bit
	// past its last sub-item.
	ErrInvalidMask = errors.New("replication: change mask has bits past the last sub-item")

	// ErrTrailingBytes is returned when a packet has bytes after its last
	// entity block.
	ErrTrailingBytes = errors.New("replication: trailing bytes after snapshot")

	// ErrTooManyEntities is returned when a snapshot announces more entity
	// blocks than a frame can hold.
	ErrTooManyEntities = errors.New("replication: entity count exceeds limit")

	// ErrDuplicateSchema is returned when registering an id twice.
	ErrDuplicateSchema = errors.New("replication: schema already registered")

	// ErrTooManyItems is returned when a block has more sub-items than the
	// widest change mask can address.
	ErrTooManyItems = errors.New("replication: more than 32 sub-items in one block")

	// ErrEmptyComponent is returned when a component has no fields.
	ErrEmptyComponent = errors.New("replication: component has no fields")
)

// Desync stages.
const (
	StageHeader    = "header"
	StageEntity    = "entity"
	StageComponent = "component"
	StageTrailer   = "trailer"
)

// DesyncError reports a packet the reader could not follow. Reader and
// writer walk the same nesting in lock-step, so any failure leaves the
// rest of the packet unreadable. The connection should request a resync.
type DesyncError struct {
	Stage     string // Where decoding stopped
	NetworkID uint32 // Entity being read, if any
	Component string // Component being read, if any
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *DesyncError) Error() string {
	switch {
	case e.Component != "":
		return fmt.Sprintf("replication: desync in %s %q of entity %d: %v", e.Stage, e.Component, e.NetworkID, e.Err)
	case e.Stage == StageEntity:
		return fmt.Sprintf("replication: desync in entity %d: %v", e.NetworkID, e.Err)
	default:
		return fmt.Sprintf("replication: desync in %s: %v", e.Stage, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *DesyncError) Unwrap() error {
	return e.Err
}

// IsDesync reports whether err is a DesyncError.
func IsDesync(err error) bool {
	var de *DesyncError
	return errors.As(err, &de)
}
