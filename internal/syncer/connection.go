// Package syncer orchestrates the ingestion pipeline: it streams documents
// from connected sources, chunks and embeds them, and upserts the result
// into the vector index. At most one sync runs per (user, source) pair.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sagehq/sage/internal/source"
)

// ErrNotConnected indicates the user has no connection for the source type.
var ErrNotConnected = errors.New("source not connected")

// ErrSyncInProgress indicates a sync for the same (user, source) pair is
// already running. Requests are rejected, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// Connection status values.
const (
	StatusConnected = "connected"
	StatusError     = "error"
)

// Connection is one user's link to a source platform.
type Connection struct {
	UserID     string
	SourceType string

	// Credentials are the opaque secrets the connector needs.
	Credentials source.Credentials

	// Status is StatusConnected or StatusError.
	Status string

	// LastSyncedAt is when a sync last ran, zero if never. It is recorded
	// on every attempt, including failed ones; FailedCount and LastError
	// carry the failure detail.
	LastSyncedAt time.Time

	// LastError is the most recent sync failure, empty after a clean run.
	LastError string

	// FailedCount is the number of documents the last sync could not
	// ingest.
	FailedCount int
}

// ConnectionStore persists connections. Put upserts the full row; the
// per-pair sync lock guarantees a single writer for sync bookkeeping.
type ConnectionStore interface {
	Put(ctx context.Context, conn Connection) error

	// Get returns ErrNotConnected when no row exists.
	Get(ctx context.Context, userID, sourceType string) (Connection, error)

	List(ctx context.Context, userID string) ([]Connection, error)

	Delete(ctx context.Context, userID, sourceType string) error
}
