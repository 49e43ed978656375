package index

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(n int) time.Time {
	return time.Date(2025, 6, n, 0, 0, 0, 0, time.UTC)
}

func testDoc(userID, sourceType, nativeID string, updated time.Time) Document {
	return Document{
		UserID:     userID,
		SourceType: sourceType,
		NativeID:   nativeID,
		Title:      "Doc " + nativeID,
		UpdatedAt:  updated,
	}
}

func testChunk(id, docID string, embedding []float32, updated time.Time) Chunk {
	return Chunk{
		ID:         id,
		DocumentID: docID,
		Title:      "Doc " + docID,
		Content:    "content of " + id,
		Embedding:  embedding,
		UpdatedAt:  updated,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	doc := testDoc("alice", "notion", "d1", day(1))
	err := idx.Upsert(ctx, doc, []Chunk{
		testChunk("c1", "d1", []float32{1, 0}, day(1)),
		testChunk("c2", "d1", []float32{0, 1}, day(1)),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := idx.Query(ctx, "alice", []float32{1, 0}, 10, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Chunk.ID != "c1" {
		t.Errorf("top hit = %s, want c1", hits[0].Chunk.ID)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("top hit score = %f, want ~1", hits[0].Score)
	}
	if hits[1].Score > 0.01 {
		t.Errorf("orthogonal hit score = %f, want ~0", hits[1].Score)
	}
}

func TestQueryIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	vec := []float32{1, 0}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "d1", day(1)),
		[]Chunk{testChunk("a1", "d1", vec, day(1))}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, testDoc("bob", "notion", "d1", day(1)),
		[]Chunk{testChunk("b1", "d1", vec, day(1))}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, "alice", vec, 10, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, hit := range hits {
		if hit.Chunk.UserID != "alice" {
			t.Errorf("alice's query returned chunk owned by %q", hit.Chunk.UserID)
		}
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestQueryRequiresUserID(t *testing.T) {
	idx := NewMemory()

	if _, err := idx.Query(context.Background(), "", []float32{1}, 5, QueryFilter{}); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("Query with empty user = %v, want ErrUserIDRequired", err)
	}
	if err := idx.Delete(context.Background(), Filter{}); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("Delete with empty user = %v, want ErrUserIDRequired", err)
	}
	if err := idx.Upsert(context.Background(), Document{}, nil); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("Upsert with empty user = %v, want ErrUserIDRequired", err)
	}
}

func TestQuerySourceFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	vec := []float32{1, 0}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "d1", day(1)),
		[]Chunk{testChunk("n1", "d1", vec, day(1))}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, testDoc("alice", "obsidian", "d2", day(1)),
		[]Chunk{testChunk("o1", "d2", vec, day(1))}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, "alice", vec, 10, QueryFilter{SourceTypes: []string{"obsidian"}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "o1" {
		t.Errorf("filtered query returned %+v, want only o1", hits)
	}
}

func TestQueryTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	vec := []float32{1, 0}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "old", day(1)),
		[]Chunk{testChunk("old-chunk", "old", vec, day(1))}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "new", day(20)),
		[]Chunk{testChunk("new-chunk", "new", vec, day(20))}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, "alice", vec, 2, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Chunk.ID != "new-chunk" {
		t.Errorf("tie broke to %s, want the more recent new-chunk", hits[0].Chunk.ID)
	}
}

func TestQueryLimitsToK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	chunks := []Chunk{
		testChunk("c1", "d1", []float32{1, 0}, day(1)),
		testChunk("c2", "d1", []float32{0.9, 0.1}, day(1)),
		testChunk("c3", "d1", []float32{0, 1}, day(1)),
	}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "d1", day(1)), chunks); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, "alice", []float32{1, 0}, 2, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestUpsertSupersedes(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	vec := []float32{1, 0}
	doc := testDoc("alice", "notion", "d1", day(1))
	if err := idx.Upsert(ctx, doc, []Chunk{
		testChunk("c1", "d1", vec, day(1)),
		testChunk("c2", "d1", vec, day(1)),
	}); err != nil {
		t.Fatal(err)
	}

	// Re-sync with shorter content: one chunk replaces two.
	doc.UpdatedAt = day(5)
	if err := idx.Upsert(ctx, doc, []Chunk{
		testChunk("c1-v2", "d1", vec, day(5)),
	}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, "alice", vec, 10, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "c1-v2" {
		t.Errorf("after re-upsert got %d hits (first %s), want only c1-v2",
			len(hits), hits[0].Chunk.ID)
	}
}

func TestDeleteScopes(t *testing.T) {
	ctx := context.Background()
	vec := []float32{1, 0}

	seed := func(t *testing.T) *Memory {
		t.Helper()
		idx := NewMemory()
		for _, s := range []struct{ user, src, doc string }{
			{"alice", "notion", "d1"},
			{"alice", "notion", "d2"},
			{"alice", "obsidian", "d3"},
			{"bob", "notion", "d4"},
		} {
			if err := idx.Upsert(ctx, testDoc(s.user, s.src, s.doc, day(1)),
				[]Chunk{testChunk(s.doc+"-c", s.doc, vec, day(1))}); err != nil {
				t.Fatal(err)
			}
		}
		return idx
	}

	count := func(t *testing.T, idx *Memory, user string) int {
		t.Helper()
		hits, err := idx.Query(ctx, user, vec, 100, QueryFilter{})
		if err != nil {
			t.Fatal(err)
		}
		return len(hits)
	}

	t.Run("by source", func(t *testing.T) {
		idx := seed(t)
		if err := idx.Delete(ctx, Filter{UserID: "alice", SourceType: "notion"}); err != nil {
			t.Fatal(err)
		}
		if got := count(t, idx, "alice"); got != 1 {
			t.Errorf("alice has %d chunks, want 1 (obsidian only)", got)
		}
		if got := count(t, idx, "bob"); got != 1 {
			t.Errorf("bob has %d chunks, want 1 (untouched)", got)
		}
	})

	t.Run("by document", func(t *testing.T) {
		idx := seed(t)
		if err := idx.Delete(ctx, Filter{UserID: "alice", SourceType: "notion", DocumentID: "d1"}); err != nil {
			t.Fatal(err)
		}
		if got := count(t, idx, "alice"); got != 2 {
			t.Errorf("alice has %d chunks, want 2", got)
		}
	})

	t.Run("whole user", func(t *testing.T) {
		idx := seed(t)
		if err := idx.Delete(ctx, Filter{UserID: "alice"}); err != nil {
			t.Fatal(err)
		}
		if got := count(t, idx, "alice"); got != 0 {
			t.Errorf("alice has %d chunks, want 0", got)
		}
	})
}

func TestRevisions(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	if err := idx.Upsert(ctx, testDoc("alice", "notion", "d1", day(3)), nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, testDoc("alice", "notion", "d2", day(7)), nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, testDoc("alice", "obsidian", "d3", day(9)), nil); err != nil {
		t.Fatal(err)
	}

	revisions, err := idx.Revisions(ctx, "alice", "notion")
	if err != nil {
		t.Fatalf("Revisions() error = %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("got %d revisions, want 2", len(revisions))
	}
	if !revisions["d1"].Equal(day(3)) || !revisions["d2"].Equal(day(7)) {
		t.Errorf("revisions = %v", revisions)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}
