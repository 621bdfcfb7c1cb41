package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key or session doesn't exist.
	ErrNotFound = errors.New("recording: not found")

	// ErrInvalidKey is returned for keys that could escape the store root.
	ErrInvalidKey = errors.New("recording: invalid key")

	// ErrClosed is returned when writing to a closed Recorder.
	ErrClosed = errors.New("recording: recorder closed")

	// ErrStoreClosed is returned by a closed MemoryStore.
	ErrStoreClosed = errors.New("recording: store closed")

	// ErrIncomplete is returned when a stream ends without its final frame.
	ErrIncomplete = fmt.Errorf("recording: stream ended without final frame: %w", io.ErrUnexpectedEOF)

	// ErrBadHeader is returned when a stream doesn't start with a handshake.
	ErrBadHeader = errors.New("recording: missing stream header")
)

// Store is the interface for recording storage backends.
// Keys are slash-separated; List returns entries sorted by key.
type Store interface {
	// Save stores the contents of r under key, replacing any previous value.
	Save(ctx context.Context, key string, r io.Reader) error

	// Open returns the contents stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every entry whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Info, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Cleanup removes entries older than maxAge and reports how many.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Info describes a stored segment.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ValidateKey reports whether key is safe to use with every Store.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '/':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// Sessions returns the distinct session names found in store.
func Sessions(ctx context.Context, store Store) ([]string, error) {
	infos, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var sessions []string
	seen := make(map[string]bool)
	for _, info := range infos {
		name, _, ok := strings.Cut(info.Key, "/")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		sessions = append(sessions, name)
	}
	return sessions, nil
}

// DeleteSession removes every segment of session.
func DeleteSession(ctx context.Context, store Store, session string) error {
	infos, err := store.List(ctx, session+"/")
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return ErrNotFound
	}
	for _, info := range infos {
		if err := store.Delete(ctx, info.Key); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func segmentKey(session string, seq int) string {
	return fmt.Sprintf("%s/%06d.twr", session, seq)
}
