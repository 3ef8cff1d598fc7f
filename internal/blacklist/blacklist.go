// Package blacklist owns the persisted set of fingerprints permanently
// barred from download, load, and execution. Entries are append-only:
// nothing in the system ever removes one automatically.
package blacklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the single writer for the blacklist file. Concurrent readers
// are safe; mutations persist immediately so a crash never loses an entry.
type Store struct {
	mu   sync.RWMutex
	path string
	set  map[string]struct{}
}

// Open loads the blacklist from path, creating an empty store if the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, set: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blacklist: %w", err)
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing blacklist: %w", err)
	}
	for _, fp := range entries {
		s.set[fp] = struct{}{}
	}
	return s, nil
}

// Contains reports whether a fingerprint is blacklisted.
func (s *Store) Contains(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[fingerprint]
	return ok
}

// Add appends a fingerprint and persists the set. Adding an existing
// fingerprint is a no-op.
func (s *Store) Add(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[fingerprint]; ok {
		return nil
	}
	s.set[fingerprint] = struct{}{}
	return s.save()
}

// Len returns the number of blacklisted fingerprints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// save writes the set atomically. Caller holds the write lock.
func (s *Store) save() error {
	entries := make([]string, 0, len(s.set))
	for fp := range s.set {
		entries = append(entries, fp)
	}
	sort.Strings(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding blacklist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing blacklist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing blacklist: %w", err)
	}
	return nil
}
