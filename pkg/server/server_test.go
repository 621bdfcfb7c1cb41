package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/replication"
)

const testEntities = 12

type testServer struct {
	srv   *Server
	world *demo.World
	http  *httptest.Server
}

func newTestServer(t *testing.T, config *ServerConfig) *testServer {
	t.Helper()

	world := demo.NewWorld(1)
	world.Populate(testEntities)
	reg, err := world.Registry(demo.Options{})
	if err != nil {
		t.Fatalf("Registry() error = %v", err)
	}

	if config == nil {
		config = DefaultServerConfig()
	}
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if config.Gatherer == prometheus.DefaultGatherer {
		config.Gatherer = prometheus.NewRegistry()
	}

	srv := New(world, reg, config)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return &testServer{srv: srv, world: world, http: hs}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials and completes the handshake.
func (ts *testServer) join(t *testing.T, id uuid.UUID) (*websocket.Conn, *protocol.ServerHello) {
	t.Helper()
	conn := ts.dial(t)
	sendFrame(t, conn, protocol.FrameHandshake,
		protocol.EncodeClientHello(protocol.NewClientHello(id, ts.srv.Fingerprint())))
	hello := readHello(t, conn)
	if hello.Status != protocol.HandshakeOK {
		t.Fatalf("handshake status = %s, want OK", hello.Status)
	}
	return conn, hello
}

func sendFrame(t *testing.T, conn *websocket.Conn, ft protocol.FrameType, payload []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.NewFrame(ft, payload).Encode()); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	frame, err := protocol.DecodeFrame(msg)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	return frame
}

// readUntil skips frames of other types, such as pongs and heartbeats.
func readUntil(t *testing.T, conn *websocket.Conn, ft protocol.FrameType) *protocol.Frame {
	t.Helper()
	for range 16 {
		if f := readFrame(t, conn); f.Type == ft {
			return f
		}
	}
	t.Fatalf("no %s frame received", ft)
	return nil
}

func readHello(t *testing.T, conn *websocket.Conn) *protocol.ServerHello {
	t.Helper()
	frame := readFrame(t, conn)
	if frame.Type != protocol.FrameHandshake {
		t.Fatalf("frame type = %s, want Handshake", frame.Type)
	}
	hello, err := protocol.DecodeServerHello(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeServerHello() error = %v", err)
	}
	return hello
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeAndFirstSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)
	id := uuid.New()
	conn, hello := ts.join(t, id)

	if hello.PeerID != id {
		t.Errorf("PeerID = %s, want %s", hello.PeerID, id)
	}
	if hello.PeerIndex != 1 {
		t.Errorf("PeerIndex = %d, want 1", hello.PeerIndex)
	}
	if hello.ServerIndex != ts.srv.Writer().PeerIndex() {
		t.Errorf("ServerIndex = %d, want %d", hello.ServerIndex, ts.srv.Writer().PeerIndex())
	}
	if hello.TickRate != 20 {
		t.Errorf("TickRate = %d, want 20", hello.TickRate)
	}
	if hello.Fingerprint != ts.srv.Fingerprint() {
		t.Errorf("Fingerprint = %x, want %x", hello.Fingerprint, ts.srv.Fingerprint())
	}
	if ts.srv.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1", ts.srv.PeerCount())
	}

	stats, err := ts.srv.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !stats.Forced || stats.Written != testEntities {
		t.Errorf("Tick() stats = %+v, want forced with %d entities", stats, testEntities)
	}

	frame := readUntil(t, conn, protocol.FrameSnapshot)
	if !frame.Flags.Has(protocol.FlagForced) {
		t.Error("first snapshot is not flagged forced")
	}

	replica := demo.NewWorld(0)
	reg, _ := replica.Registry(demo.Options{})
	snap, err := replication.NewReader(reg, replica).Read(frame.Payload)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(snap.Entities) != testEntities {
		t.Errorf("len(Entities) = %d, want %d", len(snap.Entities), testEntities)
	}
	if snap.PeerIndex != hello.ServerIndex {
		t.Errorf("PeerIndex = %d, want %d", snap.PeerIndex, hello.ServerIndex)
	}
}

func TestHandshakeRejected(t *testing.T) {
	good := func(ts *testServer) *protocol.ClientHello {
		return protocol.NewClientHello(uuid.New(), ts.srv.Fingerprint())
	}

	tests := []struct {
		name string
		msg  func(ts *testServer) []byte
		want protocol.HandshakeStatus
	}{
		{"schema mismatch", func(ts *testServer) []byte {
			h := good(ts)
			h.Fingerprint++
			return protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeClientHello(h)).Encode()
		}, protocol.HandshakeSchemaMismatch},
		{"version mismatch", func(ts *testServer) []byte {
			h := good(ts)
			h.Version.Major = 9
			return protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeClientHello(h)).Encode()
		}, protocol.HandshakeVersionMismatch},
		{"wrong frame type", func(ts *testServer) []byte {
			return protocol.NewFrame(protocol.FrameAck, protocol.EncodeAck(protocol.NewAck(1, 1))).Encode()
		}, protocol.HandshakeInvalidFormat},
		{"truncated hello", func(ts *testServer) []byte {
			return protocol.NewFrame(protocol.FrameHandshake, []byte{1, 0, 7}).Encode()
		}, protocol.HandshakeInvalidFormat},
		{"garbage", func(ts *testServer) []byte {
			return []byte{0xff}
		}, protocol.HandshakeInvalidFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			conn := ts.dial(t)
			if err := conn.WriteMessage(websocket.BinaryMessage, tc.msg(ts)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			hello := readHello(t, conn)
			if hello.Status != tc.want {
				t.Errorf("Status = %s, want %s", hello.Status, tc.want)
			}
			if ts.srv.PeerCount() != 0 {
				t.Errorf("PeerCount() = %d, want 0", ts.srv.PeerCount())
			}
			if ts.srv.Metrics().Rejected != 1 {
				t.Errorf("Rejected = %d, want 1", ts.srv.Metrics().Rejected)
			}
		})
	}
}

func TestMaxPeers(t *testing.T) {
	ts := newTestServer(t, DefaultServerConfig().WithMaxPeers(1))
	ts.join(t, uuid.New())

	conn := ts.dial(t)
	sendFrame(t, conn, protocol.FrameHandshake,
		protocol.EncodeClientHello(protocol.NewClientHello(uuid.New(), ts.srv.Fingerprint())))
	if hello := readHello(t, conn); hello.Status != protocol.HandshakeServerBusy {
		t.Errorf("Status = %s, want ServerBusy", hello.Status)
	}
}

func TestReconnectReplacesPeer(t *testing.T) {
	ts := newTestServer(t, DefaultServerConfig().WithMaxPeers(1))
	id := uuid.New()
	first, h1 := ts.join(t, id)
	old := ts.srv.Peer(id)

	_, h2 := ts.join(t, id)
	if h2.PeerIndex != h1.PeerIndex {
		t.Errorf("PeerIndex after reconnect = %d, want %d", h2.PeerIndex, h1.PeerIndex)
	}

	frame := readUntil(t, first, protocol.FrameControl)
	ct, data, err := protocol.DecodeControl(frame.Payload)
	if err != nil || ct != protocol.ControlClose {
		t.Fatalf("DecodeControl() = %s, %v; want Close", ct, err)
	}
	if cm := data.(*protocol.CloseMessage); cm.Reason != protocol.CloseGoingAway {
		t.Errorf("close reason = %s, want GoingAway", cm.Reason)
	}

	<-old.Done()
	if ts.srv.Peer(id) == old {
		t.Error("old peer still registered")
	}
	if ts.srv.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1", ts.srv.PeerCount())
	}
}

func TestDeltaThenResyncRequest(t *testing.T) {
	ts := newTestServer(t, DefaultServerConfig().WithResyncPeriod(0))
	conn, _ := ts.join(t, uuid.New())
	ctx := context.Background()

	first, _ := ts.srv.Tick(ctx)
	second, _ := ts.srv.Tick(ctx)
	if !first.Forced || second.Forced {
		t.Fatalf("Forced = %v, %v; want true, false", first.Forced, second.Forced)
	}
	if second.Bytes >= first.Bytes {
		t.Errorf("delta %d bytes, full %d; want delta smaller", second.Bytes, first.Bytes)
	}
	readUntil(t, conn, protocol.FrameSnapshot)
	if f := readUntil(t, conn, protocol.FrameSnapshot); f.Flags.Has(protocol.FlagForced) {
		t.Error("delta snapshot flagged forced")
	}

	ct, rr := protocol.NewResyncRequest(second.Tick)
	sendFrame(t, conn, protocol.FrameControl, protocol.EncodeControl(ct, rr))
	eventually(t, "resync request", func() bool { return ts.srv.Metrics().ResyncRequests == 1 })

	third, _ := ts.srv.Tick(ctx)
	if !third.Forced || third.Written != testEntities {
		t.Errorf("after resync request stats = %+v, want forced full", third)
	}
	if f := readUntil(t, conn, protocol.FrameSnapshot); !f.Flags.Has(protocol.FlagForced) {
		t.Error("resync snapshot not flagged forced")
	}
}

func TestPingAndAck(t *testing.T) {
	ts := newTestServer(t, nil)
	id := uuid.New()
	conn, _ := ts.join(t, id)

	ct, ping := protocol.NewPing(42)
	sendFrame(t, conn, protocol.FrameControl, protocol.EncodeControl(ct, ping))

	frame := readUntil(t, conn, protocol.FrameControl)
	got, data, err := protocol.DecodeControl(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeControl() error = %v", err)
	}
	if got != protocol.ControlPong || data.(*protocol.PingPong).Timestamp != 42 {
		t.Errorf("reply = %s %+v, want Pong 42", got, data)
	}

	sendFrame(t, conn, protocol.FrameAck, protocol.EncodeAck(protocol.NewAck(7, 3)))
	eventually(t, "ack", func() bool { return ts.srv.Peer(id).LastAck() == 7 })
}

func TestMalformedFrameClosesPeer(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		code protocol.ErrorCode
	}{
		{"short header", []byte{2, 0}, protocol.ErrInvalidFrame},
		{"snapshot from peer", protocol.NewFrame(protocol.FrameSnapshot, nil).Encode(), protocol.ErrInvalidFrame},
		{"unknown control", protocol.NewFrame(protocol.FrameControl, []byte{0x7f}).Encode(), protocol.ErrInvalidControl},
		{"truncated ack", protocol.NewFrame(protocol.FrameAck, nil).Encode(), protocol.ErrInvalidFrame},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			conn, _ := ts.join(t, uuid.New())

			if err := conn.WriteMessage(websocket.BinaryMessage, tc.msg); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			frame := readUntil(t, conn, protocol.FrameError)
			em, err := protocol.DecodeErrorMessage(frame.Payload)
			if err != nil {
				t.Fatalf("DecodeErrorMessage() error = %v", err)
			}
			if em.Code != tc.code || !em.Fatal {
				t.Errorf("error = %s fatal=%v, want %s fatal", em.Code, em.Fatal, tc.code)
			}
			eventually(t, "peer removal", func() bool { return ts.srv.PeerCount() == 0 })
		})
	}
}

func TestShutdownClosesPeers(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.join(t, uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}

	frame := readUntil(t, conn, protocol.FrameControl)
	ct, data, _ := protocol.DecodeControl(frame.Payload)
	if ct != protocol.ControlClose || data.(*protocol.CloseMessage).Reason != protocol.CloseServerShutdown {
		t.Errorf("got %s %+v, want Close ServerShutdown", ct, data)
	}

	if err := ts.srv.Run(context.Background()); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Run() after shutdown = %v, want ErrServerClosed", err)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	ts := newTestServer(t, nil)

	var order []string
	mark := func(name string) Middleware {
		return func(next EncodeFunc) EncodeFunc {
			return func(ctx context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error) {
				order = append(order, name+">")
				packet, stats, err := next(ctx, clock)
				order = append(order, "<"+name)
				return packet, stats, err
			}
		}
	}
	ts.srv.Use(mark("a"))
	ts.srv.Use(mark("b"))

	if _, err := ts.srv.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	want := "a> b> <b <a"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestEncodeErrorIsCounted(t *testing.T) {
	ts := newTestServer(t, nil)
	boom := errors.New("boom")
	ts.srv.Use(func(next EncodeFunc) EncodeFunc {
		return func(ctx context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error) {
			return nil, replication.WriteStats{}, boom
		}
	})

	if _, err := ts.srv.Tick(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Tick() error = %v, want %v", err, boom)
	}
	if m := ts.srv.Metrics(); m.EncodeErrors != 1 || m.Ticks != 0 {
		t.Errorf("EncodeErrors, Ticks = %d, %d; want 1, 0", m.EncodeErrors, m.Ticks)
	}
}

type sinkFunc func(ctx context.Context, f *protocol.Frame) error

func (fn sinkFunc) WriteFrame(ctx context.Context, f *protocol.Frame) error { return fn(ctx, f) }

func TestSinkReceivesFrames(t *testing.T) {
	ts := newTestServer(t, nil)

	var frames []*protocol.Frame
	ts.srv.SetSink(sinkFunc(func(_ context.Context, f *protocol.Frame) error {
		frames = append(frames, f)
		return nil
	}))

	ts.srv.Writer().ForceNext()
	for range 3 {
		ts.srv.Tick(context.Background())
	}
	if len(frames) != 3 {
		t.Fatalf("sink got %d frames, want 3", len(frames))
	}
	if !frames[0].Flags.Has(protocol.FlagForced) || frames[1].Flags.Has(protocol.FlagForced) {
		t.Errorf("flags = %v, %v; want forced then delta", frames[0].Flags, frames[1].Flags)
	}
	for i, f := range frames {
		if f.Type != protocol.FrameSnapshot {
			t.Errorf("frame %d type = %s, want Snapshot", i, f.Type)
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.join(t, uuid.New())
	ts.srv.Tick(context.Background())

	resp, err := http.Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.Status != "ok" || h.Peers != 1 || h.Tick != 1 {
		t.Errorf("health = %+v, want ok, 1 peer, tick 1", h)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	config := DefaultServerConfig()
	config.Registerer = reg
	config.Gatherer = reg
	ts := newTestServer(t, config)
	ts.join(t, uuid.New())

	resp, err := http.Get(ts.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "tickwire_connected_peers 1") {
		t.Errorf("metrics body missing peer gauge:\n%s", body)
	}
}

func TestUpgradeRefusedAfterShutdown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.Shutdown()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() succeeded after shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}
