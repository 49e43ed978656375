// Package index stores embedded chunks and answers similarity queries.
//
// Every read and write is scoped to a user ID at the call signature, not by
// caller discipline. There is no unfiltered query path, so one user's
// content can never surface in another user's results.
package index

import (
	"context"
	"errors"
	"time"
)

// ErrUserIDRequired indicates an index call without a user scope.
var ErrUserIDRequired = errors.New("user id is required")

// Document is the source-level record a set of chunks belongs to.
// (UserID, SourceType, NativeID) is the global document identity.
type Document struct {
	UserID     string
	SourceType string
	NativeID   string
	Title      string
	Tags       []string
	UpdatedAt  time.Time
}

// Chunk is one embedded window of a document.
type Chunk struct {
	// ID is the deterministic chunk identifier.
	ID string

	// DocumentID is the owning document's NativeID.
	DocumentID string

	UserID     string
	SourceType string

	// Title is the owning document's title, denormalized for provenance.
	Title string

	// Content is the chunk text.
	Content string

	// Embedding is the unit-length vector for Content.
	Embedding []float32

	UpdatedAt time.Time
}

// Scored is a query hit.
type Scored struct {
	Chunk Chunk

	// Score is cosine similarity in [-1, 1], higher is more similar.
	Score float64
}

// Filter scopes a Delete. UserID is required; the optional fields narrow
// the deletion to one source or one document.
type Filter struct {
	UserID     string
	SourceType string
	DocumentID string
}

// QueryFilter narrows a Query. Empty means no narrowing beyond the user.
type QueryFilter struct {
	// SourceTypes restricts hits to these connectors.
	SourceTypes []string
}

// Index is the vector store contract.
//
// Upsert replaces a document atomically: existing chunks for the document
// are superseded by the new set, so a failed re-sync never leaves a mix of
// old and new chunks visible. Query returns up to k hits ordered by
// similarity descending, ties broken by most recent UpdatedAt.
type Index interface {
	Upsert(ctx context.Context, doc Document, chunks []Chunk) error
	Delete(ctx context.Context, f Filter) error
	Query(ctx context.Context, userID string, vec []float32, k int, f QueryFilter) ([]Scored, error)

	// Revisions returns NativeID to UpdatedAt for a user's documents in
	// one source. Sync uses it to skip unchanged documents.
	Revisions(ctx context.Context, userID, sourceType string) (map[string]time.Time, error)
}
