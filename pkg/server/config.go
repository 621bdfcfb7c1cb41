package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PeerConfig holds configuration for individual peer connections.
type PeerConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message from the peer.
	// Heartbeat pongs and acks keep the connection alive.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout is the maximum time for the initial handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 20 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Peers only send handshakes, control frames and acks.
	// Default: 4KB.
	MaxMessageSize int64

	// SendQueue is the number of outgoing frames buffered per peer.
	// Default: 64.
	SendQueue int
}

// DefaultPeerConfig returns a PeerConfig with sensible defaults.
func DefaultPeerConfig() *PeerConfig {
	return &PeerConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		MaxMessageSize:    4 * 1024,
		SendQueue:         64,
	}
}

// Clone returns a copy of the PeerConfig.
func (c *PeerConfig) Clone() *PeerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	// Address is the address to listen on.
	// Default: ":7000".
	Address string

	// TickRate is the number of ticks, and snapshots, per second.
	// Default: 20.
	TickRate int

	// ResyncPeriod is the periodic resync cadence in ticks. Entities
	// flagged for resync are sent in full every ResyncPeriod ticks.
	// Zero disables periodic resync.
	// Default: 100.
	ResyncPeriod uint64

	// MaxPeers is the maximum number of connected peers. 0 means no limit.
	// Default: 0.
	MaxPeers int

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 16384.
	WriteBufferSize int

	// CheckOrigin validates the WebSocket upgrade origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// PeerConfig is the per-peer configuration.
	PeerConfig *PeerConfig

	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// Registerer receives the server's peer gauge. Nil skips registration.
	Registerer prometheus.Registerer

	// Gatherer is served on /metrics.
	// Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":7000",
		TickRate:        20,
		ResyncPeriod:    100,
		MaxPeers:        0,
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin:     SameOriginCheck,
		PeerConfig:      DefaultPeerConfig(),
		ShutdownTimeout: 10 * time.Second,
		Gatherer:        prometheus.DefaultGatherer,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// Requests without an Origin header (native clients) are accepted.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.PeerConfig = c.PeerConfig.Clone()
	return &clone
}

// WithAddress returns a copy with the given address.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithTickRate returns a copy with the given tick rate.
func (c *ServerConfig) WithTickRate(rate int) *ServerConfig {
	clone := c.Clone()
	clone.TickRate = rate
	return clone
}

// WithMaxPeers returns a copy with the given peer limit.
func (c *ServerConfig) WithMaxPeers(max int) *ServerConfig {
	clone := c.Clone()
	clone.MaxPeers = max
	return clone
}

// WithResyncPeriod returns a copy with the given resync period.
func (c *ServerConfig) WithResyncPeriod(ticks uint64) *ServerConfig {
	clone := c.Clone()
	clone.ResyncPeriod = ticks
	return clone
}

// applyDefaults fills in unset fields from DefaultServerConfig.
func (c *ServerConfig) applyDefaults() {
	def := DefaultServerConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = def.CheckOrigin
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Gatherer == nil {
		c.Gatherer = def.Gatherer
	}

	if c.PeerConfig == nil {
		c.PeerConfig = def.PeerConfig
		return
	}
	pc, dp := c.PeerConfig, def.PeerConfig
	if pc.ReadTimeout <= 0 {
		pc.ReadTimeout = dp.ReadTimeout
	}
	if pc.WriteTimeout <= 0 {
		pc.WriteTimeout = dp.WriteTimeout
	}
	if pc.HandshakeTimeout <= 0 {
		pc.HandshakeTimeout = dp.HandshakeTimeout
	}
	if pc.HeartbeatInterval <= 0 {
		pc.HeartbeatInterval = dp.HeartbeatInterval
	}
	if pc.MaxMessageSize <= 0 {
		pc.MaxMessageSize = dp.MaxMessageSize
	}
	if pc.SendQueue <= 0 {
		pc.SendQueue = dp.SendQueue
	}
}
