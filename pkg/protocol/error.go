package protocol

// ErrorCode identifies the type of error.
type ErrorCode uint16

const (
	ErrUnknown        ErrorCode = 0x0000 // Unknown error
	ErrInvalidFrame   ErrorCode = 0x0001 // Malformed frame
	ErrInvalidControl ErrorCode = 0x0002 // Malformed control message
	ErrDesync         ErrorCode = 0x0003 // Snapshot could not be decoded
	ErrSchemaMismatch ErrorCode = 0x0004 // Component registries differ
	ErrRateLimited    ErrorCode = 0x0005 // Too many requests
	ErrServerError    ErrorCode = 0x0100 // Internal server error
	ErrServerFull     ErrorCode = 0x0101 // No free peer slots
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrUnknown:
		return "Unknown"
	case ErrInvalidFrame:
		return "InvalidFrame"
	case ErrInvalidControl:
		return "InvalidControl"
	case ErrDesync:
		return "Desync"
	case ErrSchemaMismatch:
		return "SchemaMismatch"
	case ErrRateLimited:
		return "RateLimited"
	case ErrServerError:
		return "ServerError"
	case ErrServerFull:
		return "ServerFull"
	default:
		return "Unknown"
	}
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Code    ErrorCode // Error code
	Message string    // Human-readable error message
	Fatal   bool      // If true, connection should be closed
}

// EncodeErrorMessage encodes an ErrorMessage to bytes.
func EncodeErrorMessage(em *ErrorMessage) []byte {
	c := NewCursorWithCap(8 + len(em.Message))
	EncodeErrorMessageTo(c, em)
	return c.Bytes()
}

// EncodeErrorMessageTo encodes an ErrorMessage using the provided cursor.
func EncodeErrorMessageTo(c *Cursor, em *ErrorMessage) {
	c.WriteU16(uint16(em.Code))
	c.WriteString(em.Message)
	c.WriteBool(em.Fatal)
}

// DecodeErrorMessage decodes an ErrorMessage from bytes.
func DecodeErrorMessage(data []byte) (*ErrorMessage, error) {
	return DecodeErrorMessageFrom(NewCursorFrom(data))
}

// DecodeErrorMessageFrom decodes an ErrorMessage from a cursor.
func DecodeErrorMessageFrom(c *Cursor) (*ErrorMessage, error) {
	code, err := c.ReadU16()
	if err != nil {
		return nil, err
	}

	message, err := c.ReadString()
	if err != nil {
		return nil, err
	}

	fatal, err := c.ReadBool()
	if err != nil {
		return nil, err
	}

	return &ErrorMessage{
		Code:    ErrorCode(code),
		Message: message,
		Fatal:   fatal,
	}, nil
}

// NewError creates a new non-fatal ErrorMessage.
func NewError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{
		Code:    code,
		Message: message,
	}
}

// NewFatalError creates a new fatal ErrorMessage.
func NewFatalError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{
		Code:    code,
		Message: message,
		Fatal:   true,
	}
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Fatal {
		return "fatal: " + em.Code.String() + ": " + em.Message
	}
	return em.Code.String() + ": " + em.Message
}

// IsFatal returns true if this error should close the connection.
func (em *ErrorMessage) IsFatal() bool {
	return em.Fatal
}
