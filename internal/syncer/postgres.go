package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagehq/sage/internal/source"
)

const putConnectionSQL = `INSERT INTO source_connections
	(user_id, source_type, credentials, status, last_synced_at, last_error, failed_count, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	ON CONFLICT (user_id, source_type)
	DO UPDATE SET credentials = EXCLUDED.credentials, status = EXCLUDED.status,
		last_synced_at = EXCLUDED.last_synced_at, last_error = EXCLUDED.last_error,
		failed_count = EXCLUDED.failed_count, updated_at = now()`

const connectionCols = `user_id, source_type, credentials, status, last_synced_at, last_error, failed_count`

const getConnectionSQL = `SELECT ` + connectionCols + ` FROM source_connections
	WHERE user_id = $1 AND source_type = $2`

const listConnectionsSQL = `SELECT ` + connectionCols + ` FROM source_connections
	WHERE user_id = $1 ORDER BY source_type`

const deleteConnectionSQL = `DELETE FROM source_connections
	WHERE user_id = $1 AND source_type = $2`

// PostgresConnections persists connections in PostgreSQL.
type PostgresConnections struct {
	pool *pgxpool.Pool
}

// NewPostgresConnections creates a connection store over an open pool.
func NewPostgresConnections(pool *pgxpool.Pool) (*PostgresConnections, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresConnections{pool: pool}, nil
}

// Put upserts a connection row.
func (s *PostgresConnections) Put(ctx context.Context, conn Connection) error {
	if conn.UserID == "" || conn.SourceType == "" {
		return fmt.Errorf("user id and source type are required")
	}

	creds, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	var lastSynced *time.Time
	if !conn.LastSyncedAt.IsZero() {
		lastSynced = &conn.LastSyncedAt
	}

	_, err = s.pool.Exec(ctx, putConnectionSQL,
		conn.UserID, conn.SourceType, creds, conn.Status,
		lastSynced, conn.LastError, conn.FailedCount)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// Get returns one connection, or ErrNotConnected.
func (s *PostgresConnections) Get(ctx context.Context, userID, sourceType string) (Connection, error) {
	row := s.pool.QueryRow(ctx, getConnectionSQL, userID, sourceType)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotConnected, sourceType)
	}
	if err != nil {
		return Connection{}, fmt.Errorf("getting connection: %w", err)
	}
	return conn, nil
}

// List returns all of a user's connections.
func (s *PostgresConnections) List(ctx context.Context, userID string) ([]Connection, error) {
	rows, err := s.pool.Query(ctx, listConnectionsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading connections: %w", err)
	}
	return conns, nil
}

// Delete removes a connection row.
func (s *PostgresConnections) Delete(ctx context.Context, userID, sourceType string) error {
	if _, err := s.pool.Exec(ctx, deleteConnectionSQL, userID, sourceType); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

func scanConnection(row pgx.Row) (Connection, error) {
	var conn Connection
	var creds []byte
	var lastSynced *time.Time

	err := row.Scan(&conn.UserID, &conn.SourceType, &creds, &conn.Status,
		&lastSynced, &conn.LastError, &conn.FailedCount)
	if err != nil {
		return Connection{}, err
	}

	conn.Credentials = make(source.Credentials)
	if err := json.Unmarshal(creds, &conn.Credentials); err != nil {
		return Connection{}, fmt.Errorf("unmarshaling credentials: %w", err)
	}
	if lastSynced != nil {
		conn.LastSyncedAt = *lastSynced
	}
	return conn, nil
}
