package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createConversationSQL = `INSERT INTO conversations (id, user_id) VALUES ($1, $2)`

const ownerCheckSQL = `SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2`

// appendTurnSQL assigns the next sequence number inside the insert itself;
// the unique (conversation_id, seq) constraint catches racing writers.
const appendTurnSQL = `INSERT INTO conversation_turns (conversation_id, seq, role, content, source_refs)
	SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
	FROM conversation_turns WHERE conversation_id = $1
	RETURNING seq, created_at`

const turnsSQL = `SELECT t.seq, t.role, t.content, t.source_refs, t.created_at
	FROM conversation_turns t
	JOIN conversations c ON c.id = t.conversation_id
	WHERE t.conversation_id = $1 AND c.user_id = $2
	ORDER BY t.seq`

// PostgresStore persists conversations in PostgreSQL.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a conversation store over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Create starts an empty conversation.
func (s *PostgresStore) Create(ctx context.Context, userID string) (uuid.UUID, error) {
	if userID == "" {
		return uuid.Nil, fmt.Errorf("user id is required")
	}

	id := uuid.New()
	if _, err := s.pool.Exec(ctx, createConversationSQL, id, userID); err != nil {
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}
	return id, nil
}

// Append adds a turn at the next sequence number.
func (s *PostgresStore) Append(ctx context.Context, userID string, conversationID uuid.UUID, role Role, content string, refs []SourceRef) (Turn, error) {
	if err := s.checkOwner(ctx, userID, conversationID); err != nil {
		return Turn{}, err
	}

	if refs == nil {
		refs = []SourceRef{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return Turn{}, fmt.Errorf("marshaling source refs: %w", err)
	}

	turn := Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		SourceRefs:     refs,
	}
	err = s.pool.QueryRow(ctx, appendTurnSQL, conversationID, role, content, refsJSON).
		Scan(&turn.Seq, &turn.CreatedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("appending turn: %w", err)
	}
	return turn, nil
}

// Turns returns the full history in sequence order.
func (s *PostgresStore) Turns(ctx context.Context, userID string, conversationID uuid.UUID) ([]Turn, error) {
	if err := s.checkOwner(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, turnsSQL, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		turn := Turn{ConversationID: conversationID}
		var refsJSON []byte
		if err := rows.Scan(&turn.Seq, &turn.Role, &turn.Content, &refsJSON, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if err := json.Unmarshal(refsJSON, &turn.SourceRefs); err != nil {
			return nil, fmt.Errorf("unmarshaling source refs: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}

	return turns, nil
}

func (s *PostgresStore) checkOwner(ctx context.Context, userID string, conversationID uuid.UUID) error {
	var one int
	err := s.pool.QueryRow(ctx, ownerCheckSQL, conversationID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation owner: %w", err)
	}
	return nil
}
