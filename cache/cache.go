// Package cache provides a flat content-addressed store for pipeline
// results. Keys are cryptographic digests of the inputs that produced a
// value, so identical inputs reuse prior results and changed inputs never
// collide with stale entries. There is no TTL and no eviction: entries
// accumulate until deleted externally.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Key returns the content-addressed key for the given parts: the SHA-256
// digest of their concatenation, hex encoded.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store is a content-addressed JSON file store holding one entry per key.
// Entries are written indented and UTF-8 encoded so they stay
// human-inspectable. A corrupt or unreadable entry is treated as a miss,
// never a fatal error.
type Store[T any] struct {
	dir    string
	prefix string
	logger *zap.Logger
}

// NewStore creates a Store rooted at dir. The prefix namespaces entry
// files so different value types can share one cache directory.
func NewStore[T any](dir, prefix string, logger *zap.Logger) (*Store[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store[T]{dir: dir, prefix: prefix, logger: logger}, nil
}

func (s *Store[T]) path(key string) string {
	return filepath.Join(s.dir, s.prefix+key+".json")
}

// Lookup returns the cached value for key and whether it was present.
// Unreadable or corrupt entries count as misses and are logged at warn.
func (s *Store[T]) Lookup(key string) (T, bool) {
	var value T

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable cache entry treated as miss",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return value, false
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		s.logger.Warn("corrupt cache entry treated as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		var zero T
		return zero, false
	}
	return value, true
}

// Put stores value under key, replacing any previous entry.
func (s *Store[T]) Put(key string, value T) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := os.WriteFile(s.path(key), raw, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}
