// Package conversation keeps per-user chat history as an append-only turn
// log. Sequence numbers are assigned by the store and increase by one per
// turn, so history replays in exact order.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the conversation does not exist or belongs to a
// different user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("conversation not found")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SourceRef is a provenance label attached to an assistant turn, naming a
// document the answer drew on.
type SourceRef struct {
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
}

// Turn is one message in a conversation.
type Turn struct {
	ConversationID uuid.UUID
	Seq            int
	Role           Role
	Content        string
	SourceRefs     []SourceRef
	CreatedAt      time.Time
}

// Store is the conversation persistence contract. All reads and writes are
// scoped to a user; touching another user's conversation returns
// ErrNotFound.
type Store interface {
	// Create starts an empty conversation and returns its id.
	Create(ctx context.Context, userID string) (uuid.UUID, error)

	// Append adds a turn at the next sequence number.
	Append(ctx context.Context, userID string, conversationID uuid.UUID, role Role, content string, refs []SourceRef) (Turn, error)

	// Turns returns the full history in sequence order.
	Turns(ctx context.Context, userID string, conversationID uuid.UUID) ([]Turn, error)
}
