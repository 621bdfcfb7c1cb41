package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/replication"
)

// Simulation is the authoritative world the server replicates.
// Both methods are called from the tick goroutine only.
type Simulation interface {
	// Step advances the world by dt seconds.
	Step(dt float64)

	// Replicated lists the entities to offer the snapshot writer.
	// owner is the server's peer index.
	Replicated(owner uint32) []replication.Replicated
}

// EncodeFunc produces the snapshot packet for the current tick of clock.
type EncodeFunc func(ctx context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error)

// Middleware wraps the per-tick encode step.
type Middleware func(next EncodeFunc) EncodeFunc

// FrameSink receives every snapshot frame the server broadcasts.
// pkg/recording's Recorder implements it.
type FrameSink interface {
	WriteFrame(ctx context.Context, f *protocol.Frame) error
}

// Server is the authoritative replication server.
type Server struct {
	config      *ServerConfig
	sim         Simulation
	registry    *replication.Registry
	fingerprint uint64
	writer      *replication.Writer
	table       *replication.PeerTable
	clock       *replication.StepClock
	upgrader    websocket.Upgrader
	router      chi.Router

	mu    sync.RWMutex
	peers map[uuid.UUID]*Peer

	middleware []Middleware
	encode     EncodeFunc
	sink       FrameSink

	tick    atomic.Uint64
	closed  atomic.Bool
	metrics *MetricsCollector
	logger  *slog.Logger
}

// New creates a server replicating sim through reg. A nil config uses
// DefaultServerConfig; unset fields are filled in from it.
func New(sim Simulation, reg *replication.Registry, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
	}
	config.applyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	table := replication.NewPeerTable()
	s := &Server{
		config:      config,
		sim:         sim,
		registry:    reg,
		fingerprint: reg.Fingerprint(),
		writer: replication.NewWriter(replication.WriterConfig{
			Registry: reg,
			Peers:    table,
			Policy:   replication.ResyncPolicy{Period: config.ResyncPeriod},
		}),
		table: table,
		clock: replication.NewStepClock(config.TickRate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		peers:   make(map[uuid.UUID]*Peer),
		metrics: NewMetricsCollector(),
		logger:  logger,
	}
	s.router = s.routes()

	if config.Registerer != nil {
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tickwire",
			Name:      "connected_peers",
			Help:      "Number of peers with a completed handshake",
		}, func() float64 { return float64(s.PeerCount()) })
		if err := config.Registerer.Register(gauge); err != nil {
			logger.Warn("peer gauge not registered", "error", err)
		}
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the server's HTTP handler for mounting in external routers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Use adds middleware around the encode step. Middleware added after the
// first tick has no effect.
func (s *Server) Use(mw Middleware) {
	s.middleware = append(s.middleware, mw)
}

// SetSink sets the sink that receives every snapshot frame. The next
// snapshot carries full state so the sink starts from a complete world.
// Call it before Run.
func (s *Server) SetSink(sink FrameSink) {
	s.sink = sink
	s.writer.ForceNext()
}

// Hello builds a successful ServerHello for the given peer. A recording
// header uses uuid.Nil and index 0.
func (s *Server) Hello(id uuid.UUID, index uint32) *protocol.ServerHello {
	return &protocol.ServerHello{
		Status:      protocol.HandshakeOK,
		PeerID:      id,
		PeerIndex:   index,
		ServerIndex: s.writer.PeerIndex(),
		Fingerprint: s.fingerprint,
		TickRate:    uint16(s.config.TickRate),
		ServerTime:  uint64(time.Now().UnixMilli()),
	}
}

// Registry returns the replicated component registry.
func (s *Server) Registry() *replication.Registry {
	return s.registry
}

// Writer returns the server's snapshot writer.
func (s *Server) Writer() *replication.Writer {
	return s.writer
}

// Fingerprint returns the registry fingerprint peers must match.
func (s *Server) Fingerprint() uint64 {
	return s.fingerprint
}

// Config returns the server's effective configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// CurrentTick returns the tick of the last encoded packet.
func (s *Server) CurrentTick() uint64 {
	return s.tick.Load()
}

// Peer returns the connected peer with the given id.
func (s *Server) Peer(id uuid.UUID) *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// =============================================================================
// Tick loop
// =============================================================================

// Run ticks at the configured rate until ctx is done, then closes every
// peer. It returns nil on cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.config.TickRate))
	defer ticker.Stop()

	s.logger.Info("tick loop started",
		"tick_rate", s.config.TickRate,
		"resync_period", s.config.ResyncPeriod,
		"fingerprint", fmt.Sprintf("%016x", s.fingerprint))

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-ticker.C:
			// Errors are logged and counted by Tick; the loop keeps going.
			_, _ = s.Tick(ctx)
		}
	}
}

// Tick advances the simulation one step, encodes a packet and broadcasts
// it. Run calls Tick; it may also be called directly when no Run loop is
// active. It must not be called concurrently.
func (s *Server) Tick(ctx context.Context) (replication.WriteStats, error) {
	if s.encode == nil {
		s.encode = s.chain()
	}

	s.clock.Advance()
	s.sim.Step(s.clock.Step())

	packet, stats, err := s.encode(ctx, s.clock)
	if err != nil {
		s.metrics.RecordEncodeError()
		s.logger.Error("encode failed", "tick", s.clock.Tick(), "error", err)
		return stats, err
	}
	s.metrics.RecordTick(stats)
	s.tick.Store(stats.Tick)

	var flags protocol.FrameFlags
	if stats.Forced {
		flags |= protocol.FlagForced
	}
	frame := protocol.NewFrameWithFlags(protocol.FrameSnapshot, flags, packet)
	s.broadcast(frame.Encode())

	if s.sink != nil {
		if err := s.sink.WriteFrame(ctx, frame); err != nil {
			s.logger.Warn("recording frame failed", "tick", stats.Tick, "error", err)
		}
	}

	s.logger.Debug("tick",
		"tick", stats.Tick,
		"written", stats.Written,
		"bytes", stats.Bytes,
		"forced", stats.Forced,
		"resync", stats.Resync)
	return stats, nil
}

// chain builds the encode step wrapped in middleware, first added outermost.
func (s *Server) chain() EncodeFunc {
	var fn EncodeFunc = s.encodeSnapshot
	for i := len(s.middleware) - 1; i >= 0; i-- {
		fn = s.middleware[i](fn)
	}
	return fn
}

func (s *Server) encodeSnapshot(_ context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error) {
	packet, stats := s.writer.Write(clock, s.sim.Replicated(s.writer.PeerIndex()))
	if len(packet) > protocol.MaxPayloadSize {
		// The cache already holds this tick's values; the next packet must be full.
		s.writer.ForceNext()
		return nil, stats, fmt.Errorf("tick %d: %d bytes: %w", stats.Tick, len(packet), protocol.ErrFrameTooLarge)
	}
	return packet, stats, nil
}

func (s *Server) broadcast(frame []byte) {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if err := p.Send(frame); err != nil {
			if errors.Is(err, ErrSendQueueFull) {
				s.metrics.RecordDrop()
				p.lagging.Store(true)
				p.logger.Debug("snapshot dropped", "error", err)
			}
		}
	}
}

// requestResync makes the next packet carry full state.
func (s *Server) requestResync(p *Peer, reason string) {
	s.writer.ForceNext()
	p.logger.Debug("resync scheduled", "reason", reason)
}

// Shutdown closes every peer and refuses new connections.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.CloseWith(protocol.CloseServerShutdown, "server shutting down")
	}
	s.logger.Info("server shut down", "peers_closed", len(peers))
}

// ListenAndServe serves HTTP on the configured address and runs the tick
// loop until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	s.logger.Info("listening", "address", s.config.Address)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		cancel()
	}
	runErr := <-runDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr != nil {
		return serveErr
	}
	return runErr
}

type health struct {
	Status string `json:"status"`
	Peers  int    `json:"peers"`
	Tick   uint64 `json:"tick"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok", Peers: s.PeerCount(), Tick: s.CurrentTick()}
	code := http.StatusOK
	if s.closed.Load() {
		h.Status = "closed"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(h)
}

// =============================================================================
// Handshake
// =============================================================================

// HandleWebSocket upgrades the connection, runs the handshake and serves
// the peer until it disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	pc := s.config.PeerConfig
	conn.SetReadLimit(pc.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pc.HandshakeTimeout))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		s.logger.Warn("handshake read failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}

	hello, status, err := s.readHello(msg)
	if err != nil {
		s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "status", status, "error", err)
		s.reject(conn, status)
		return
	}

	peer, err := s.admit(conn, hello)
	if err != nil {
		s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
		s.reject(conn, protocol.HandshakeServerBusy)
		return
	}

	// The first snapshot the peer sees must carry full state.
	s.requestResync(peer, "join")
	if err := peer.sendHello(s); err != nil {
		peer.logger.Warn("handshake write failed", "error", err)
		s.removePeer(peer)
		peer.Close()
		return
	}
	s.metrics.RecordPeerJoin()
	peer.logger.Info("peer connected", "remote", r.RemoteAddr, "index", peer.Index, "last_tick", hello.LastTick)

	go peer.writeLoop()
	err = peer.readLoop()

	s.removePeer(peer)
	peer.drain()
	peer.Close()
	s.metrics.RecordPeerLeave()
	peer.logger.Info("peer disconnected", "reason", err)
}

// readHello decodes and validates the ClientHello frame.
func (s *Server) readHello(msg []byte) (*protocol.ClientHello, protocol.HandshakeStatus, error) {
	frame, err := protocol.DecodeFrame(msg)
	if err != nil {
		return nil, protocol.HandshakeInvalidFormat, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if frame.Type != protocol.FrameHandshake {
		return nil, protocol.HandshakeInvalidFormat, fmt.Errorf("%w: got %s frame", ErrInvalidHandshake, frame.Type)
	}

	hello, err := protocol.DecodeClientHello(frame.Payload)
	if err != nil {
		return nil, protocol.HandshakeInvalidFormat, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if !protocol.CurrentVersion.Compatible(hello.Version) {
		return hello, protocol.HandshakeVersionMismatch,
			fmt.Errorf("%w: version %d.%d", ErrInvalidHandshake, hello.Version.Major, hello.Version.Minor)
	}
	if hello.Fingerprint != s.fingerprint {
		return hello, protocol.HandshakeSchemaMismatch,
			fmt.Errorf("%w: peer %016x, server %016x", ErrSchemaMismatch, hello.Fingerprint, s.fingerprint)
	}
	return hello, protocol.HandshakeOK, nil
}

// admit registers a peer for hello. A peer reconnecting under an id that
// is still connected replaces the old connection.
func (s *Server) admit(conn *websocket.Conn, hello *protocol.ClientHello) (*Peer, error) {
	id := hello.PeerID
	if id == uuid.Nil {
		id = uuid.New()
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	old := s.peers[id]
	if old == nil && s.config.MaxPeers > 0 && len(s.peers) >= s.config.MaxPeers {
		s.mu.Unlock()
		return nil, ErrMaxPeersReached
	}
	peer := newPeer(s, conn, id, s.table.Add(id))
	s.peers[id] = peer
	s.mu.Unlock()

	if old != nil {
		old.CloseWith(protocol.CloseGoingAway, "replaced by a new connection")
	}
	return peer, nil
}

func (s *Server) removePeer(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[p.ID] != p {
		return
	}
	delete(s.peers, p.ID)
	s.table.Remove(p.ID)
}

// reject answers a failed handshake with a ServerHello carrying status
// and closes the connection.
func (s *Server) reject(conn *websocket.Conn, status protocol.HandshakeStatus) {
	s.metrics.RecordRejected()

	hello := protocol.NewServerHelloError(status, s.fingerprint)
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(hello))

	deadline := time.Now().Add(s.config.PeerConfig.WriteTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, status.String()), deadline)
	}
	conn.Close()
}
