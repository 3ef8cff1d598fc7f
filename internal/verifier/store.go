// Package verifier runs the one-time deep inspection pass for newly
// seen artifact fingerprints and applies its side effects: evidence
// capture, blacklisting and cache eviction.
package verifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/swarmnet/validator/internal/models"
)

// Store persists verdicts keyed by artifact fingerprint. One verdict
// per fingerprint, written once: the inspection pass runs exactly once
// for any set of bytes.
type Store struct {
	mu       sync.RWMutex
	path     string
	verdicts map[string]models.Verdict
}

// OpenStore loads the verdict store, tolerating a missing file.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, verdicts: make(map[string]models.Verdict)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading verdict store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.verdicts); err != nil {
		return nil, fmt.Errorf("parsing verdict store %s: %w", path, err)
	}
	return s, nil
}

// Get returns the stored verdict for the fingerprint, if any.
func (s *Store) Get(fingerprint string) (models.Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[fingerprint]
	return v, ok
}

// Put records a verdict and persists the store.
func (s *Store) Put(v models.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[v.Fingerprint] = v
	return s.save()
}

// Len returns the number of stored verdicts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verdicts)
}

func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.verdicts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding verdict store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating verdict store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing verdict store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing verdict store: %w", err)
	}
	return nil
}
