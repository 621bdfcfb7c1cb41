package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// errClosedByPeer ends the read loop when the peer sends a Close control frame.
var errClosedByPeer = errors.New("server: closed by peer")

// outbound is one queued frame. A last frame closes the connection once written.
type outbound struct {
	data []byte
	last bool
}

// Peer is one connected client.
type Peer struct {
	ID          uuid.UUID
	Index       uint32
	ConnectedAt time.Time

	conn    *websocket.Conn
	server  *Server
	config  *PeerConfig
	send    chan outbound
	done    chan struct{}
	once    sync.Once
	lagging atomic.Bool
	closing atomic.Bool
	lastAck atomic.Uint64
	logger  *slog.Logger
}

func newPeer(s *Server, conn *websocket.Conn, id uuid.UUID, index uint32) *Peer {
	return &Peer{
		ID:          id,
		Index:       index,
		ConnectedAt: time.Now(),
		conn:        conn,
		server:      s,
		config:      s.config.PeerConfig,
		send:        make(chan outbound, s.config.PeerConfig.SendQueue),
		done:        make(chan struct{}),
		logger:      s.logger.With("peer", id.String()),
	}
}

// LastAck returns the last tick the peer acknowledged.
func (p *Peer) LastAck() uint64 {
	return p.lastAck.Load()
}

// Done is closed when the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Send queues an encoded frame without blocking.
func (p *Peer) Send(frame []byte) error {
	return p.enqueue(outbound{data: frame})
}

func (p *Peer) enqueue(out outbound) error {
	if out.last {
		p.closing.Store(true)
	}
	select {
	case <-p.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case p.send <- out:
		return nil
	case <-p.done:
		return ErrConnectionClosed
	default:
		return NewPeerError(p.ID, "send", ErrSendQueueFull)
	}
}

// Close closes the connection without a Close frame. It is safe to call
// more than once and from any goroutine.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		deadline := time.Now().Add(time.Second)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		p.conn.Close()
	})
}

// CloseWith queues a Close control frame and closes the connection once it
// is written. A full queue closes immediately.
func (p *Peer) CloseWith(reason protocol.CloseReason, message string) {
	ct, cm := protocol.NewClose(reason, message)
	frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm))
	if err := p.enqueue(outbound{data: frame.Encode(), last: true}); err != nil {
		p.Close()
	}
}

// drain waits for a queued last frame to be written, bounded by the write
// timeout.
func (p *Peer) drain() {
	if !p.closing.Load() {
		return
	}
	select {
	case <-p.done:
	case <-time.After(p.config.WriteTimeout):
	}
}

// sendError queues an Error frame. Fatal errors close the connection
// after the frame is written.
func (p *Peer) sendError(em *protocol.ErrorMessage) {
	frame := protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(em))
	if err := p.enqueue(outbound{data: frame.Encode(), last: em.IsFatal()}); err != nil && em.IsFatal() {
		p.Close()
	}
}

// sendHello writes the ServerHello directly, before the write loop starts.
func (p *Peer) sendHello(s *Server) error {
	hello := s.Hello(p.ID, p.Index)
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(hello))
	return p.write(frame.Encode())
}

func (p *Peer) write(data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	p.server.metrics.RecordSend(len(data))
	return nil
}

// =============================================================================
// Read loop
// =============================================================================

// readLoop reads frames until the connection fails or the peer misbehaves.
// It returns the reason the loop ended.
func (p *Peer) readLoop() error {
	p.conn.SetReadDeadline(time.Now().Add(p.config.ReadTimeout))

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return ErrConnectionClosed
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.server.metrics.RecordReadError()
				p.logger.Warn("websocket read error", "error", err)
			}
			return NewPeerError(p.ID, "read", err)
		}

		p.conn.SetReadDeadline(time.Now().Add(p.config.ReadTimeout))
		p.server.metrics.RecordReceive(len(msg))

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			return p.malformed(protocol.ErrInvalidFrame, "decode frame", err)
		}

		switch frame.Type {
		case protocol.FrameControl:
			if err := p.handleControl(frame.Payload); err != nil {
				return err
			}

		case protocol.FrameAck:
			ack, err := protocol.DecodeAck(frame.Payload)
			if err != nil {
				return p.malformed(protocol.ErrInvalidFrame, "decode ack", err)
			}
			p.lastAck.Store(ack.LastTick)

		default:
			return p.malformed(protocol.ErrInvalidFrame, "read",
				fmt.Errorf("%w: %s", ErrUnexpectedFrame, frame.Type))
		}
	}
}

func (p *Peer) handleControl(payload []byte) error {
	ct, data, err := protocol.DecodeControl(payload)
	if err != nil {
		return p.malformed(protocol.ErrInvalidControl, "decode control", err)
	}

	switch ct {
	case protocol.ControlPing:
		pp := data.(*protocol.PingPong)
		pt, pong := protocol.NewPong(pp.Timestamp)
		frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(pt, pong))
		if err := p.Send(frame.Encode()); err != nil {
			p.logger.Debug("pong dropped", "error", err)
		}

	case protocol.ControlPong:
		// Heartbeat answered; the read deadline was already extended.

	case protocol.ControlResyncRequest:
		rr := data.(*protocol.ResyncRequest)
		p.logger.Info("resync requested", "last_tick", rr.LastTick)
		p.server.requestResync(p, "request")
		p.server.metrics.RecordResyncRequest()

	case protocol.ControlClose:
		cm := data.(*protocol.CloseMessage)
		p.logger.Debug("close received", "reason", cm.Reason, "message", cm.Message)
		return errClosedByPeer

	default:
		return p.malformed(protocol.ErrInvalidControl, "control",
			fmt.Errorf("unknown control type 0x%02x", uint8(ct)))
	}
	return nil
}

// malformed reports a protocol violation to the peer and returns the error
// that ends the read loop.
func (p *Peer) malformed(code protocol.ErrorCode, op string, err error) error {
	p.server.metrics.RecordReadError()
	p.sendError(protocol.NewFatalError(code, err.Error()))
	p.logger.Warn("malformed frame", "op", op, "error", err)
	return NewPeerError(p.ID, op, err)
}

// =============================================================================
// Write loop
// =============================================================================

// writeLoop drains the send queue and sends heartbeat pings. It is the only
// goroutine writing data messages after the handshake.
func (p *Peer) writeLoop() {
	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-p.send:
			if err := p.write(out.data); err != nil {
				p.server.metrics.RecordWriteError()
				p.logger.Warn("websocket write error", "error", err)
				p.Close()
				return
			}
			if out.last {
				p.Close()
				return
			}
			if len(p.send) == 0 && p.lagging.CompareAndSwap(true, false) {
				p.server.requestResync(p, "caught up")
			}

		case <-ticker.C:
			ct, ping := protocol.NewPing(uint64(time.Now().UnixMilli()))
			frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, ping))
			if err := p.write(frame.Encode()); err != nil {
				p.server.metrics.RecordWriteError()
				p.Close()
				return
			}

		case <-p.done:
			return
		}
	}
}
