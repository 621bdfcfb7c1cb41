package recording

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It suits tests and embedding a
// recorder in a process that replays its own stream; nothing survives a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	segments map[string]*storedSegment
	closed   bool
}

type storedSegment struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{segments: make(map[string]*storedSegment)}
}

// Save stores a copy of r's contents under key.
func (m *MemoryStore) Save(ctx context.Context, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.segments[key] = &storedSegment{data: data, modTime: time.Now()}
	return nil
}

// Open returns a reader over a copy of the segment.
func (m *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.segments[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(s.data))), nil
}

// List returns the segments under prefix sorted by key.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	var infos []Info
	for key, s := range m.segments {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, Info{Key: key, Size: int64(len(s.data)), ModTime: s.modTime})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes a segment.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.segments[key]; !ok {
		return ErrNotFound
	}
	delete(m.segments, key)
	return nil
}

// Cleanup removes segments older than maxAge.
func (m *MemoryStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, s := range m.segments {
		if s.modTime.Before(cutoff) {
			delete(m.segments, key)
			removed++
		}
	}
	return removed, nil
}

// Close drops every segment. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.segments = nil
	return nil
}

// Count returns the number of stored segments.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}
