// Package assistant is the application facade. It wires sources, sync,
// retrieval, generation and conversation state into the operations an
// outer surface (CLI, HTTP layer) exposes.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sagehq/sage/internal/conversation"
	"github.com/sagehq/sage/internal/index"
	"github.com/sagehq/sage/internal/retrieval"
	"github.com/sagehq/sage/internal/router"
	"github.com/sagehq/sage/internal/source"
	"github.com/sagehq/sage/internal/syncer"
)

// DefaultHistoryWindow is how many recent turns are replayed into the
// prompt when no cap is configured.
const DefaultHistoryWindow = 10

// unavailableMessage is what users see when every provider failed. The
// underlying detail stays in the logs.
const unavailableMessage = "Sorry, I can't generate a response right now. Please try again in a moment."

// ChatResult is the outcome of one chat exchange.
type ChatResult struct {
	Response       string
	SourceRefs     []conversation.SourceRef
	ConversationID uuid.UUID
}

// SourceStatus is one row of SyncStatus.
type SourceStatus struct {
	SourceType    string
	Connected     bool
	DocumentCount int
	LastSyncedAt  time.Time
	LastError     string
	FailedCount   int
}

// Assistant composes the core subsystems behind user-level operations.
type Assistant struct {
	syncer        *syncer.Syncer
	planner       *retrieval.Planner
	router        *router.Router
	conversations conversation.Store
	idx           index.Index
	logger        *slog.Logger

	historyWindow int
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithHistoryWindow caps how many recent turns are replayed into the
// prompt.
func WithHistoryWindow(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.historyWindow = n
		}
	}
}

// New creates an Assistant.
func New(sync *syncer.Syncer, planner *retrieval.Planner, r *router.Router,
	conversations conversation.Store, idx index.Index, logger *slog.Logger, opts ...Option) (*Assistant, error) {
	if sync == nil || planner == nil || r == nil || conversations == nil || idx == nil {
		return nil, fmt.Errorf("all subsystems are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assistant{
		syncer:        sync,
		planner:       planner,
		router:        r,
		conversations: conversations,
		idx:           idx,
		logger:        logger,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Connect validates and stores a source connection.
func (a *Assistant) Connect(ctx context.Context, userID, sourceType string, creds source.Credentials) error {
	return a.syncer.Connect(ctx, userID, sourceType, creds)
}

// Disconnect removes a connection and its indexed content.
func (a *Assistant) Disconnect(ctx context.Context, userID, sourceType string) error {
	return a.syncer.Disconnect(ctx, userID, sourceType)
}

// Sync ingests one source, or every connected source when sourceType is
// "all" or empty.
func (a *Assistant) Sync(ctx context.Context, userID, sourceType string) ([]syncer.Report, error) {
	if sourceType == "" || sourceType == "all" {
		return a.syncer.SyncAll(ctx, userID)
	}
	report, err := a.syncer.Sync(ctx, userID, sourceType)
	if err != nil {
		return nil, err
	}
	return []syncer.Report{report}, nil
}

// SyncStatus reports each connected source with its document count and the
// outcome of its last sync.
func (a *Assistant) SyncStatus(ctx context.Context, userID string) ([]SourceStatus, error) {
	conns, err := a.syncer.Status(ctx, userID)
	if err != nil {
		return nil, err
	}

	statuses := make([]SourceStatus, 0, len(conns))
	for _, conn := range conns {
		revisions, err := a.idx.Revisions(ctx, userID, conn.SourceType)
		if err != nil {
			return nil, fmt.Errorf("counting %s documents: %w", conn.SourceType, err)
		}
		statuses = append(statuses, SourceStatus{
			SourceType:    conn.SourceType,
			Connected:     conn.Status == syncer.StatusConnected,
			DocumentCount: len(revisions),
			LastSyncedAt:  conn.LastSyncedAt,
			LastError:     conn.LastError,
			FailedCount:   conn.FailedCount,
		})
	}
	return statuses, nil
}

// Search retrieves chunks for a query without generating a response.
// k and threshold fall back to configured defaults when zero.
func (a *Assistant) Search(ctx context.Context, userID, query string, k int, threshold float64) ([]retrieval.Chunk, error) {
	var opts []retrieval.Option
	if k > 0 {
		opts = append(opts, retrieval.WithTopK(k))
	}
	if threshold > 0 {
		opts = append(opts, retrieval.WithThreshold(threshold))
	}
	return a.planner.Retrieve(ctx, userID, query, opts...)
}

// Chat answers a message with retrieved context and appends the exchange
// to the conversation. A zero conversationID starts a new conversation.
// With nothing relevant indexed, the model answers unaided and SourceRefs
// is empty.
func (a *Assistant) Chat(ctx context.Context, userID string, conversationID uuid.UUID, message string) (ChatResult, error) {
	if message == "" {
		return ChatResult{}, fmt.Errorf("message is required")
	}

	if conversationID == uuid.Nil {
		id, err := a.conversations.Create(ctx, userID)
		if err != nil {
			return ChatResult{}, fmt.Errorf("creating conversation: %w", err)
		}
		conversationID = id
	}

	turns, err := a.conversations.Turns(ctx, userID, conversationID)
	if err != nil {
		return ChatResult{}, err
	}

	chunks, err := a.planner.Retrieve(ctx, userID, message)
	if err != nil {
		return ChatResult{}, fmt.Errorf("retrieving context: %w", err)
	}

	req := router.Request{
		Passages: passages(chunks),
		History:  historyMessages(turns, a.historyWindow),
		Query:    message,
	}

	result, err := a.router.Generate(ctx, req)
	if errors.Is(err, router.ErrGenerationUnavailable) {
		a.logger.Error("generation unavailable",
			"user_id", userID, "conversation_id", conversationID, "error", err)
		return ChatResult{
			Response:       unavailableMessage,
			ConversationID: conversationID,
		}, nil
	}
	if err != nil {
		return ChatResult{}, err
	}

	refs := sourceRefs(chunks)
	if _, err := a.conversations.Append(ctx, userID, conversationID,
		conversation.RoleUser, message, nil); err != nil {
		return ChatResult{}, fmt.Errorf("recording user turn: %w", err)
	}
	if _, err := a.conversations.Append(ctx, userID, conversationID,
		conversation.RoleAssistant, result.Text, refs); err != nil {
		return ChatResult{}, fmt.Errorf("recording assistant turn: %w", err)
	}

	a.logger.Info("chat answered",
		"user_id", userID, "conversation_id", conversationID,
		"provider", result.Provider, "complexity", result.Complexity,
		"sources", len(refs))

	return ChatResult{
		Response:       result.Text,
		SourceRefs:     refs,
		ConversationID: conversationID,
	}, nil
}

// History returns a conversation's turns in order.
func (a *Assistant) History(ctx context.Context, userID string, conversationID uuid.UUID) ([]conversation.Turn, error) {
	return a.conversations.Turns(ctx, userID, conversationID)
}

func passages(chunks []retrieval.Chunk) []router.Passage {
	out := make([]router.Passage, len(chunks))
	for i, c := range chunks {
		out[i] = router.Passage{Label: c.Label, Content: c.Chunk.Content}
	}
	return out
}

func historyMessages(turns []conversation.Turn, window int) []router.Message {
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	msgs := make([]router.Message, len(turns))
	for i, turn := range turns {
		msgs[i] = router.Message{Role: string(turn.Role), Content: turn.Content}
	}
	return msgs
}

// sourceRefs dedups provenance to one ref per document, preserving rank
// order.
func sourceRefs(chunks []retrieval.Chunk) []conversation.SourceRef {
	seen := make(map[string]bool)
	var refs []conversation.SourceRef
	for _, c := range chunks {
		key := c.Chunk.SourceType + "/" + c.Chunk.DocumentID
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, conversation.SourceRef{
			SourceType: c.Chunk.SourceType,
			Title:      c.Chunk.Title,
		})
	}
	return refs
}
