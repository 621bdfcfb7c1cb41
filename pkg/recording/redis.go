package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces recording keys in a shared Redis.
const DefaultRedisPrefix = "tickwire:rec:"

const (
	fieldData    = "data"
	fieldModTime = "mtime"
)

// RedisStore stores each segment as a hash holding its bytes and write
// time in Unix milliseconds.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store on client. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// WithTTL makes Redis expire segments on its own after d.
func (s *RedisStore) WithTTL(d time.Duration) *RedisStore {
	s.ttl = d
	return s
}

// Save stores a segment.
func (s *RedisStore) Save(ctx context.Context, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	k := s.prefix + key
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldData, data, fieldModTime, time.Now().UnixMilli())
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}

// Open reads a segment into memory.
func (s *RedisStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.prefix+key, fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis open %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// List scans for keys under the store prefix.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Info, error) {
	match := s.prefix + prefix + "*"

	var infos []Info
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			fields, err := s.client.HGetAll(ctx, k).Result()
			if err != nil {
				return nil, fmt.Errorf("redis list %s: %w", k, err)
			}
			if len(fields) == 0 {
				// Expired between SCAN and HGETALL
				continue
			}
			info := Info{
				Key:  strings.TrimPrefix(k, s.prefix),
				Size: int64(len(fields[fieldData])),
			}
			if ms, err := strconv.ParseInt(fields[fieldModTime], 10, 64); err == nil {
				info.ModTime = time.UnixMilli(ms)
			}
			infos = append(infos, info)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes a segment.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes segments older than maxAge.
func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	infos, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var keys []string
	for _, info := range infos {
		if info.ModTime.Before(cutoff) {
			keys = append(keys, s.prefix+info.Key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis cleanup: %w", err)
	}
	return int(n), nil
}
