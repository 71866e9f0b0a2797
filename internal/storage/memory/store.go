// Package memory keeps failure artifacts in memory for tests and dry runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/conference-crawler/internal/storage"
)

// Store holds artifacts by key.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]storage.Artifact
}

// New returns an empty Store.
func New() *Store {
	return &Store{artifacts: make(map[string]storage.Artifact)}
}

// Save keeps a copy of a and returns a memory:// URI.
func (s *Store) Save(_ context.Context, a storage.Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	a.Data = slices.Clone(a.Data)
	key := a.Key()
	s.mu.Lock()
	s.artifacts[key] = a
	s.mu.Unlock()
	return "memory://" + key, nil
}

// Keys lists stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.artifacts))
	for k := range s.artifacts {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Get returns the artifact stored under key.
func (s *Store) Get(key string) (storage.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[key]
	return a, ok
}
