package recording

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// DefaultSegmentSize is the buffered size at which a segment is saved.
const DefaultSegmentSize = 1 << 20

// Config configures a Recorder.
type Config struct {
	// SegmentSize is the buffered size that triggers a save.
	// Default: 1 MiB.
	SegmentSize int

	// Logger for save failures. Default: slog.Default().
	Logger *slog.Logger
}

// Stats summarizes what a Recorder has written.
type Stats struct {
	Frames   int64 // Frames recorded, header and trailer excluded
	Bytes    int64 // Encoded bytes including headers
	Segments int   // Segments saved
}

// Recorder writes a frame stream into a Store. It implements
// server.FrameSink and is safe for concurrent use.
type Recorder struct {
	store   Store
	session string
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	buf    bytes.Buffer
	seq    int
	stats  Stats
	closed bool
}

// NewSession returns a fresh session name.
func NewSession() string {
	return uuid.NewString()
}

// NewRecorder starts a recording named session. hello is stored as the
// stream header.
func NewRecorder(store Store, session string, hello *protocol.ServerHello, config Config) (*Recorder, error) {
	if err := ValidateKey(session); err != nil {
		return nil, err
	}
	if hello == nil {
		return nil, ErrBadHeader
	}
	if config.SegmentSize <= 0 {
		config.SegmentSize = DefaultSegmentSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:   store,
		session: session,
		config:  config,
		logger:  logger.With("component", "recording", "session", session),
	}
	header := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(hello))
	r.buf.Write(header.Encode())
	return r, nil
}

// Session returns the recording's session name.
func (r *Recorder) Session() string {
	return r.session
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// WriteFrame appends a frame and saves the segment once it is full.
// A failed save keeps the buffer, so the next write retries it.
func (r *Recorder) WriteFrame(ctx context.Context, f *protocol.Frame) error {
	if len(f.Payload) > protocol.MaxPayloadSize {
		return protocol.ErrFrameTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	data := f.Encode()
	r.buf.Write(data)
	r.stats.Frames++
	r.stats.Bytes += int64(len(data))

	if r.buf.Len() >= r.config.SegmentSize {
		return r.flushLocked(ctx)
	}
	return nil
}

// Flush saves whatever is buffered as a segment.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

// Close writes the final frame and saves the last segment. Closing twice
// is a no-op.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	ct, msg := protocol.NewClose(protocol.CloseNormal, "end of recording")
	trailer := protocol.NewFrameWithFlags(protocol.FrameControl, protocol.FlagFinal, protocol.EncodeControl(ct, msg))
	r.buf.Write(trailer.Encode())

	if err := r.flushLocked(ctx); err != nil {
		return err
	}
	r.closed = true
	r.logger.Info("recording closed",
		"frames", r.stats.Frames,
		"bytes", r.stats.Bytes,
		"segments", r.stats.Segments)
	return nil
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	if r.buf.Len() == 0 {
		return nil
	}

	key := segmentKey(r.session, r.seq)
	if err := r.store.Save(ctx, key, bytes.NewReader(r.buf.Bytes())); err != nil {
		r.logger.Warn("segment save failed", "key", key, "buffered", r.buf.Len(), "error", err)
		return fmt.Errorf("recording: save %s: %w", key, err)
	}

	r.logger.Debug("segment saved", "key", key, "bytes", r.buf.Len())
	r.buf.Reset()
	r.seq++
	r.stats.Segments++
	return nil
}
