// Package client connects to a tickwire server and applies its snapshots
// to a local store.
//
//	world := demo.NewWorld(0)
//	reg, _ := world.Registry(demo.Options{})
//	c, err := client.Dial(ctx, "ws://localhost:7000/ws", reg, world, nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	return c.Run(ctx, func(u *client.Update) error {
//	    log.Printf("tick %d: %d entities", u.Tick, len(u.Snapshot.Entities))
//	    return nil
//	})
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/replication"
)

// Errors returned by the client.
var (
	// ErrTooManyDesyncs is returned when more consecutive snapshots failed
	// to decode than Config.MaxDesyncs allows.
	ErrTooManyDesyncs = errors.New("client: too many desynced snapshots")

	// ErrUnexpectedFrame is returned when the server sends a frame type a
	// client never expects.
	ErrUnexpectedFrame = errors.New("client: unexpected frame type")
)

// HandshakeError is returned by Dial when the server refuses the handshake.
type HandshakeError struct {
	Status      protocol.HandshakeStatus
	Fingerprint uint64 // Server's registry fingerprint
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("client: handshake rejected: %s (server fingerprint %016x)", e.Status, e.Fingerprint)
}

// CloseError is returned when the server closes the session.
type CloseError struct {
	Reason  protocol.CloseReason
	Message string
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: closed by server: %s", e.Reason)
	}
	return fmt.Sprintf("client: closed by server: %s: %s", e.Reason, e.Message)
}

// Config configures a client.
type Config struct {
	// PeerID is the identity presented in the handshake. A random id is
	// used when zero. Reusing an id replaces an older connection.
	PeerID uuid.UUID

	// HandshakeTimeout bounds the handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum silence from the server.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxDesyncs is the number of consecutive undecodable snapshots
	// tolerated before the client gives up.
	// Default: 3.
	MaxDesyncs int

	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	// Dialer is the WebSocket dialer. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// OnDesync, if set, is called with every snapshot decode failure.
	OnDesync func(err error)

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxDesyncs:       3,
		Dialer:           websocket.DefaultDialer,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxDesyncs <= 0 {
		c.MaxDesyncs = def.MaxDesyncs
	}
	if c.Dialer == nil {
		c.Dialer = def.Dialer
	}
	if c.PeerID == uuid.Nil {
		c.PeerID = uuid.New()
	}
}

// Update is one applied snapshot.
type Update struct {
	Snapshot *replication.Snapshot
	Tick     uint64 // Server tick, derived from the snapshot time and tick rate
	Forced   bool   // The snapshot carried full state
	Bytes    int    // Payload size
}

// Stats counts what the client has received.
type Stats struct {
	Snapshots uint64
	Forced    uint64
	Bytes     uint64
	Desyncs   uint64
	Resyncs   uint64
}

// Client is a connected peer. Next and Run must be called from one
// goroutine; RequestResync and Close may be called from any.
type Client struct {
	conn   *websocket.Conn
	reader *replication.Reader
	hello  *protocol.ServerHello
	config *Config
	logger *slog.Logger

	writeMu sync.Mutex

	lastTick atomic.Uint64
	desyncs  int
	stats    Stats
}

// Dial connects to url, performs the handshake and returns a client that
// applies snapshots through reg to the entities returned by resolver.
func Dial(ctx context.Context, url string, reg *replication.Registry, resolver replication.EntityResolver, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		clone := *config
		config = &clone
	}
	config.applyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client", "peer", config.PeerID.String())

	ctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	conn, _, err := config.Dialer.DialContext(ctx, url, config.Header)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		reader: replication.NewReader(reg, resolver),
		config: config,
		logger: logger,
	}

	hello, err := c.handshake(ctx, reg.Fingerprint())
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.hello = hello

	logger.Info("connected",
		"url", url,
		"peer_index", hello.PeerIndex,
		"server_index", hello.ServerIndex,
		"tick_rate", hello.TickRate)
	return c, nil
}

func (c *Client) handshake(ctx context.Context, fingerprint uint64) (*protocol.ServerHello, error) {
	deadline, _ := ctx.Deadline()

	ch := protocol.NewClientHello(c.config.PeerID, fingerprint)
	if err := c.writeFrame(protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeClientHello(ch))); err != nil {
		return nil, fmt.Errorf("client: send hello: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("client: read hello: %w", err)
	}
	frame, err := protocol.DecodeFrame(msg)
	if err != nil {
		return nil, fmt.Errorf("client: read hello: %w", err)
	}
	if frame.Type != protocol.FrameHandshake {
		return nil, fmt.Errorf("%w: %s during handshake", ErrUnexpectedFrame, frame.Type)
	}
	hello, err := protocol.DecodeServerHello(frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("client: read hello: %w", err)
	}
	if hello.Status != protocol.HandshakeOK {
		return nil, &HandshakeError{Status: hello.Status, Fingerprint: hello.Fingerprint}
	}
	return hello, nil
}

// Hello returns the server's handshake response.
func (c *Client) Hello() *protocol.ServerHello {
	return c.hello
}

// PeerID returns the identity the client connected with.
func (c *Client) PeerID() uuid.UUID {
	return c.config.PeerID
}

// LastTick returns the tick of the last applied snapshot.
func (c *Client) LastTick() uint64 {
	return c.lastTick.Load()
}

// Stats returns the receive counters. It must be called from the goroutine
// running Next.
func (c *Client) Stats() Stats {
	return c.stats
}

// Next reads frames until a snapshot has been applied and returns it.
// Pings are answered, decode failures trigger a resync request, and a
// server Close or fatal Error ends the session with an error.
func (c *Client) Next(ctx context.Context) (*Update, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("client: read: %w", err)
		}

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			return nil, fmt.Errorf("client: decode frame: %w", err)
		}

		switch frame.Type {
		case protocol.FrameSnapshot:
			u, err := c.apply(frame)
			if err != nil {
				return nil, err
			}
			if u != nil {
				return u, nil
			}

		case protocol.FrameControl:
			if err := c.handleControl(frame.Payload); err != nil {
				return nil, err
			}

		case protocol.FrameError:
			em, err := protocol.DecodeErrorMessage(frame.Payload)
			if err != nil {
				return nil, fmt.Errorf("client: decode error frame: %w", err)
			}
			if em.IsFatal() {
				return nil, em
			}
			c.logger.Warn("server error", "code", em.Code, "message", em.Message)

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, frame.Type)
		}
	}
}

// apply decodes a snapshot. It returns a nil Update when the snapshot
// desynced and a resync was requested.
func (c *Client) apply(frame *protocol.Frame) (*Update, error) {
	forced := frame.Flags.Has(protocol.FlagForced)
	c.stats.Bytes += uint64(len(frame.Payload))

	snap, err := c.reader.Read(frame.Payload)
	if err != nil {
		c.stats.Desyncs++
		c.desyncs++
		c.logger.Warn("snapshot desync", "consecutive", c.desyncs, "error", err)
		if c.config.OnDesync != nil {
			c.config.OnDesync(err)
		}

		if c.desyncs > c.config.MaxDesyncs {
			ct, cm := protocol.NewClose(protocol.CloseDesync, err.Error())
			_ = c.writeFrame(protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm)))
			return nil, fmt.Errorf("%w: %w", ErrTooManyDesyncs, err)
		}
		c.stats.Resyncs++
		if err := c.RequestResync(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if forced {
		c.desyncs = 0
		c.stats.Forced++
	}
	c.stats.Snapshots++

	tick := uint64(math.Round(snap.Tick * float64(c.hello.TickRate)))
	c.lastTick.Store(tick)
	if err := c.writeFrame(protocol.NewFrame(protocol.FrameAck,
		protocol.EncodeAck(protocol.NewAck(tick, uint32(len(snap.Entities)))))); err != nil {
		return nil, fmt.Errorf("client: send ack: %w", err)
	}

	return &Update{
		Snapshot: snap,
		Tick:     tick,
		Forced:   forced,
		Bytes:    len(frame.Payload),
	}, nil
}

func (c *Client) handleControl(payload []byte) error {
	ct, data, err := protocol.DecodeControl(payload)
	if err != nil {
		return fmt.Errorf("client: decode control: %w", err)
	}

	switch ct {
	case protocol.ControlPing:
		pt, pong := protocol.NewPong(data.(*protocol.PingPong).Timestamp)
		return c.writeFrame(protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(pt, pong)))

	case protocol.ControlPong:
		return nil

	case protocol.ControlClose:
		cm := data.(*protocol.CloseMessage)
		return &CloseError{Reason: cm.Reason, Message: cm.Message}

	default:
		c.logger.Debug("ignoring control message", "type", ct)
		return nil
	}
}

// Run calls fn for every applied snapshot until ctx is done, fn returns an
// error or the session ends. Cancellation returns nil.
func (c *Client) Run(ctx context.Context, fn func(*Update) error) error {
	for {
		u, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if fn != nil {
			if err := fn(u); err != nil {
				return err
			}
		}
	}
}

// RequestResync asks the server for full state on its next tick.
func (c *Client) RequestResync() error {
	ct, rr := protocol.NewResyncRequest(c.lastTick.Load())
	if err := c.writeFrame(protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, rr))); err != nil {
		return fmt.Errorf("client: request resync: %w", err)
	}
	return nil
}

// Ping sends a heartbeat carrying the current time.
func (c *Client) Ping() error {
	ct, ping := protocol.NewPing(uint64(time.Now().UnixMilli()))
	return c.writeFrame(protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, ping)))
}

// Close sends a Close control frame and closes the connection.
func (c *Client) Close() error {
	ct, cm := protocol.NewClose(protocol.CloseNormal, "")
	_ = c.writeFrame(protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm)))

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) writeFrame(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, f.Encode())
}
