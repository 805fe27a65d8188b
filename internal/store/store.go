// Package store implements qached's durable, file-per-key backing store.
// See spec.md §4.5: each key maps to the file root/key; the store is
// authoritative for key presence.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/h2owater425/qached/internal/logger"
)

// Store is a directory rooted, file-per-key durable store. Reads take a
// shared lock; writes and deletes take the exclusive lock (spec.md §5).
type Store struct {
	mu   sync.RWMutex
	root string
	log  *logger.Logger
}

// New creates (if absent) the root directory and returns a Store rooted
// there.
func New(root string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %q: %w", root, err)
	}
	return &Store{root: root, log: log}, nil
}

// path resolves key to its on-disk file. Keys are used verbatim as file
// names; the store relies on callers not issuing path-traversal keys
// (documented limitation, spec.md §3/§9).
func (s *Store) path(key string) string {
	return filepath.Join(s.root, key)
}

// Read returns the UTF-8 contents of key's file, or ok=false if the file
// does not exist.
func (s *Store) Read(key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}

	s.log.Debugf("read", "read %s (%d bytes)", key, len(data))
	return string(data), true, nil
}

// Write replaces (or creates) key's file with value.
func (s *Store) Write(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.log.Debugf("write", "wrote %s (%d bytes)", key, len(value))
	return nil
}

// Delete removes key's file, reporting whether it existed.
func (s *Store) Delete(key string) (existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	s.log.Debugf("delete", "deleted %s", key)
	return true, nil
}
