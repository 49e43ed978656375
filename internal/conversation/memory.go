package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process conversation store used in tests and
// database-free development.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]string
	turns  map[uuid.UUID][]Turn
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners: make(map[uuid.UUID]string),
		turns:  make(map[uuid.UUID][]Turn),
	}
}

// Create starts an empty conversation.
func (s *MemoryStore) Create(_ context.Context, userID string) (uuid.UUID, error) {
	if userID == "" {
		return uuid.Nil, fmt.Errorf("user id is required")
	}

	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = userID
	return id, nil
}

// Append adds a turn at the next sequence number.
func (s *MemoryStore) Append(_ context.Context, userID string, conversationID uuid.UUID, role Role, content string, refs []SourceRef) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owners[conversationID] != userID || userID == "" {
		return Turn{}, ErrNotFound
	}

	turn := Turn{
		ConversationID: conversationID,
		Seq:            len(s.turns[conversationID]) + 1,
		Role:           role,
		Content:        content,
		SourceRefs:     slices.Clone(refs),
		CreatedAt:      time.Now().UTC(),
	}
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return turn, nil
}

// Turns returns the full history in sequence order.
func (s *MemoryStore) Turns(_ context.Context, userID string, conversationID uuid.UUID) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.owners[conversationID] != userID || userID == "" {
		return nil, ErrNotFound
	}
	return slices.Clone(s.turns[conversationID]), nil
}
