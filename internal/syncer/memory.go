package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryConnections is the in-process connection store used in tests and
// database-free development.
type MemoryConnections struct {
	mu    sync.RWMutex
	conns map[pairKey]Connection
}

type pairKey struct {
	userID     string
	sourceType string
}

// NewMemoryConnections creates an empty in-process store.
func NewMemoryConnections() *MemoryConnections {
	return &MemoryConnections{conns: make(map[pairKey]Connection)}
}

// Put upserts a connection.
func (s *MemoryConnections) Put(_ context.Context, conn Connection) error {
	if conn.UserID == "" || conn.SourceType == "" {
		return fmt.Errorf("user id and source type are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[pairKey{conn.UserID, conn.SourceType}] = conn
	return nil
}

// Get returns one connection, or ErrNotConnected.
func (s *MemoryConnections) Get(_ context.Context, userID, sourceType string) (Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[pairKey{userID, sourceType}]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotConnected, sourceType)
	}
	return conn, nil
}

// List returns a user's connections ordered by source type.
func (s *MemoryConnections) List(_ context.Context, userID string) ([]Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conns []Connection
	for key, conn := range s.conns {
		if key.userID == userID {
			conns = append(conns, conn)
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].SourceType < conns[j].SourceType
	})
	return conns, nil
}

// Delete removes a connection.
func (s *MemoryConnections) Delete(_ context.Context, userID, sourceType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, pairKey{userID, sourceType})
	return nil
}
