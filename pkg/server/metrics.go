package server

import (
	"sync/atomic"
	"time"

	"github.com/tickwire/tickwire/pkg/replication"
)

// ServerMetrics is a point-in-time view of the server counters.
type ServerMetrics struct {
	// Peers
	ActivePeers int64
	PeersJoined int64
	PeersLeft   int64
	Rejected    int64

	// Ticks
	Ticks          int64
	ForcedTicks    int64
	EntitiesSent   int64
	SnapshotBytes  int64
	LastPacketSize int64

	// Network
	FramesSent     int64
	FramesDropped  int64
	BytesSent      int64
	BytesReceived  int64
	ResyncRequests int64

	// Errors
	EncodeErrors int64
	WriteErrors  int64
	ReadErrors   int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics returns the current server metrics.
func (s *Server) Metrics() *ServerMetrics {
	m := s.metrics.Snapshot()
	m.ActivePeers = int64(s.PeerCount())
	return m
}

// MetricsCollector collects server counters. All methods are safe for
// concurrent use.
type MetricsCollector struct {
	peersJoined    atomic.Int64
	peersLeft      atomic.Int64
	rejected       atomic.Int64
	ticks          atomic.Int64
	forcedTicks    atomic.Int64
	entitiesSent   atomic.Int64
	snapshotBytes  atomic.Int64
	lastPacketSize atomic.Int64
	framesSent     atomic.Int64
	framesDropped  atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	resyncRequests atomic.Int64
	encodeErrors   atomic.Int64
	writeErrors    atomic.Int64
	readErrors     atomic.Int64
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordTick records one encoded packet.
func (m *MetricsCollector) RecordTick(stats replication.WriteStats) {
	m.ticks.Add(1)
	if stats.Forced {
		m.forcedTicks.Add(1)
	}
	m.entitiesSent.Add(int64(stats.Written))
	m.snapshotBytes.Add(int64(stats.Bytes))
	m.lastPacketSize.Store(int64(stats.Bytes))
}

// RecordPeerJoin records a completed handshake.
func (m *MetricsCollector) RecordPeerJoin() {
	m.peersJoined.Add(1)
}

// RecordPeerLeave records a closed peer.
func (m *MetricsCollector) RecordPeerLeave() {
	m.peersLeft.Add(1)
}

// RecordRejected records a refused handshake.
func (m *MetricsCollector) RecordRejected() {
	m.rejected.Add(1)
}

// RecordSend records a frame written to a peer connection.
func (m *MetricsCollector) RecordSend(bytes int) {
	m.framesSent.Add(1)
	m.bytesSent.Add(int64(bytes))
}

// RecordDrop records a frame dropped on a full send queue.
func (m *MetricsCollector) RecordDrop() {
	m.framesDropped.Add(1)
}

// RecordReceive records bytes read from a peer.
func (m *MetricsCollector) RecordReceive(bytes int) {
	m.bytesReceived.Add(int64(bytes))
}

// RecordResyncRequest records a peer asking for full state.
func (m *MetricsCollector) RecordResyncRequest() {
	m.resyncRequests.Add(1)
}

// RecordEncodeError records a failed tick.
func (m *MetricsCollector) RecordEncodeError() {
	m.encodeErrors.Add(1)
}

// RecordWriteError records a WebSocket write error.
func (m *MetricsCollector) RecordWriteError() {
	m.writeErrors.Add(1)
}

// RecordReadError records a WebSocket read or decode error.
func (m *MetricsCollector) RecordReadError() {
	m.readErrors.Add(1)
}

// Snapshot returns the current counter values.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	return &ServerMetrics{
		PeersJoined:    m.peersJoined.Load(),
		PeersLeft:      m.peersLeft.Load(),
		Rejected:       m.rejected.Load(),
		Ticks:          m.ticks.Load(),
		ForcedTicks:    m.forcedTicks.Load(),
		EntitiesSent:   m.entitiesSent.Load(),
		SnapshotBytes:  m.snapshotBytes.Load(),
		LastPacketSize: m.lastPacketSize.Load(),
		FramesSent:     m.framesSent.Load(),
		FramesDropped:  m.framesDropped.Load(),
		BytesSent:      m.bytesSent.Load(),
		BytesReceived:  m.bytesReceived.Load(),
		ResyncRequests: m.resyncRequests.Load(),
		EncodeErrors:   m.encodeErrors.Load(),
		WriteErrors:    m.writeErrors.Load(),
		ReadErrors:     m.readErrors.Load(),
		CollectedAt:    time.Now(),
	}
}

// Reset zeroes every counter.
func (m *MetricsCollector) Reset() {
	m.peersJoined.Store(0)
	m.peersLeft.Store(0)
	m.rejected.Store(0)
	m.ticks.Store(0)
	m.forcedTicks.Store(0)
	m.entitiesSent.Store(0)
	m.snapshotBytes.Store(0)
	m.lastPacketSize.Store(0)
	m.framesSent.Store(0)
	m.framesDropped.Store(0)
	m.bytesSent.Store(0)
	m.bytesReceived.Store(0)
	m.resyncRequests.Store(0)
	m.encodeErrors.Store(0)
	m.writeErrors.Store(0)
	m.readErrors.Store(0)
}
