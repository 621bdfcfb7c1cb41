package protocol

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing          ControlType = 0x01 // Client/server ping
	ControlPong          ControlType = 0x02 // Response to ping
	ControlResyncRequest ControlType = 0x10 // Client asks for a full snapshot
	ControlClose         ControlType = 0x20 // Session close
)

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlResyncRequest:
		return "ResyncRequest"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// CloseReason indicates why a session is being closed.
type CloseReason uint8

const (
	CloseNormal         CloseReason = 0x00 // Normal closure
	CloseGoingAway      CloseReason = 0x01 // Client/server going away
	CloseDesync         CloseReason = 0x02 // Too many undecodable snapshots
	CloseServerShutdown CloseReason = 0x03 // Server shutting down
	CloseError          CloseReason = 0x04 // Error occurred
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseDesync:
		return "Desync"
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PingPong is the payload for Ping and Pong messages.
type PingPong struct {
	Timestamp uint64 // Unix timestamp in milliseconds
}

// ResyncRequest is sent by a client that missed or could not decode a
// snapshot. The server answers by forcing full state on its next tick.
type ResyncRequest struct {
	LastTick uint64 // Last successfully applied tick
}

// CloseMessage is sent when closing a session.
type CloseMessage struct {
	Reason  CloseReason
	Message string
}

// EncodeControl encodes a control message to bytes.
func EncodeControl(ct ControlType, payload any) []byte {
	c := NewCursorWithCap(16)
	EncodeControlTo(c, ct, payload)
	return c.Bytes()
}

// EncodeControlTo encodes a control message using the provided cursor.
func EncodeControlTo(c *Cursor, ct ControlType, payload any) {
	c.WriteU8(byte(ct))

	switch ct {
	case ControlPing, ControlPong:
		if pp, ok := payload.(*PingPong); ok {
			c.WriteU64(pp.Timestamp)
		} else {
			c.WriteU64(0)
		}

	case ControlResyncRequest:
		if rr, ok := payload.(*ResyncRequest); ok {
			c.WriteUvarint(rr.LastTick)
		} else {
			c.WriteUvarint(0)
		}

	case ControlClose:
		if cm, ok := payload.(*CloseMessage); ok {
			c.WriteU8(byte(cm.Reason))
			c.WriteString(cm.Message)
		} else {
			c.WriteU8(byte(CloseNormal))
			c.WriteString("")
		}
	}
}

// DecodeControl decodes a control message from bytes.
// Returns the control type and the decoded payload.
func DecodeControl(data []byte) (ControlType, any, error) {
	return DecodeControlFrom(NewCursorFrom(data))
}

// DecodeControlFrom decodes a control message from a cursor.
func DecodeControlFrom(c *Cursor) (ControlType, any, error) {
	typeByte, err := c.ReadU8()
	if err != nil {
		return 0, nil, err
	}
	ct := ControlType(typeByte)

	switch ct {
	case ControlPing, ControlPong:
		ts, err := c.ReadU64()
		if err != nil {
			return ct, nil, err
		}
		return ct, &PingPong{Timestamp: ts}, nil

	case ControlResyncRequest:
		lastTick, err := c.ReadUvarint()
		if err != nil {
			return ct, nil, err
		}
		return ct, &ResyncRequest{LastTick: lastTick}, nil

	case ControlClose:
		reason, err := c.ReadU8()
		if err != nil {
			return ct, nil, err
		}
		message, err := c.ReadString()
		if err != nil {
			return ct, nil, err
		}
		return ct, &CloseMessage{
			Reason:  CloseReason(reason),
			Message: message,
		}, nil

	default:
		return ct, nil, nil
	}
}

// NewPing creates a new Ping message.
func NewPing(timestamp uint64) (ControlType, *PingPong) {
	return ControlPing, &PingPong{Timestamp: timestamp}
}

// NewPong creates a new Pong message.
func NewPong(timestamp uint64) (ControlType, *PingPong) {
	return ControlPong, &PingPong{Timestamp: timestamp}
}

// NewResyncRequest creates a new ResyncRequest message.
func NewResyncRequest(lastTick uint64) (ControlType, *ResyncRequest) {
	return ControlResyncRequest, &ResyncRequest{LastTick: lastTick}
}

// NewClose creates a new Close message.
func NewClose(reason CloseReason, message string) (ControlType, *CloseMessage) {
	return ControlClose, &CloseMessage{Reason: reason, Message: message}
}
