package index

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process index with a brute-force cosine scan. It backs
// tests and database-free development; semantics match Postgres.
type Memory struct {
	mu        sync.RWMutex
	documents map[docKey]Document
	chunks    map[docKey][]Chunk
}

type docKey struct {
	userID     string
	sourceType string
	nativeID   string
}

// NewMemory creates an empty in-process index.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[docKey]Document),
		chunks:    make(map[docKey][]Chunk),
	}
}

// Upsert replaces the document's chunk set.
func (m *Memory) Upsert(_ context.Context, doc Document, chunks []Chunk) error {
	if doc.UserID == "" {
		return ErrUserIDRequired
	}

	key := docKey{doc.UserID, doc.SourceType, doc.NativeID}
	stored := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		chunk.UserID = doc.UserID
		chunk.SourceType = doc.SourceType
		chunk.Embedding = slices.Clone(chunk.Embedding)
		stored[i] = chunk
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[key] = doc
	m.chunks[key] = stored
	return nil
}

// Delete removes documents and chunks in the filter's scope.
func (m *Memory) Delete(_ context.Context, f Filter) error {
	if f.UserID == "" {
		return ErrUserIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.documents {
		if key.userID != f.UserID {
			continue
		}
		if f.SourceType != "" && key.sourceType != f.SourceType {
			continue
		}
		if f.DocumentID != "" && key.nativeID != f.DocumentID {
			continue
		}
		delete(m.documents, key)
		delete(m.chunks, key)
	}
	return nil
}

// Query scans the user's chunks and returns the top k by cosine
// similarity, ties broken by most recent UpdatedAt.
func (m *Memory) Query(_ context.Context, userID string, vec []float32, k int, f QueryFilter) ([]Scored, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Scored
	for key, chunks := range m.chunks {
		if key.userID != userID {
			continue
		}
		if len(f.SourceTypes) > 0 && !slices.Contains(f.SourceTypes, key.sourceType) {
			continue
		}
		for _, chunk := range chunks {
			hits = append(hits, Scored{Chunk: chunk, Score: cosine(vec, chunk.Embedding)})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.UpdatedAt.After(hits[j].Chunk.UpdatedAt)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Revisions returns NativeID to UpdatedAt for one user and source.
func (m *Memory) Revisions(_ context.Context, userID, sourceType string) (map[string]time.Time, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	revisions := make(map[string]time.Time)
	for key, doc := range m.documents {
		if key.userID == userID && key.sourceType == sourceType {
			revisions[key.nativeID] = doc.UpdatedAt
		}
	}
	return revisions, nil
}

// cosine computes cosine similarity between two vectors of equal length.
// Mismatched lengths score zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
