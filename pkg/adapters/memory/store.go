// Package memory provides a process-local SnapshotStore, used by tests and
// by single-node deployments that accept losing sessions on restart.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/aretw0/tickvm/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Save keeps a private copy of snapshot.
func (s *Store) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owned := bytes.Clone(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = owned
	return nil
}

// Load returns a copy, so callers can't mutate the stored snapshot.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return bytes.Clone(snapshot), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored session IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	slices.Sort(sessions)
	return sessions, nil
}

// Size is the total number of snapshot bytes held.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.data {
		n += len(b)
	}
	return n
}
