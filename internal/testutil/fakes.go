package testutil

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sagehq/sage/internal/embed"
	"github.com/sagehq/sage/internal/source"
)

// FakeEmbedder produces deterministic vectors from text without a network
// call. Similar word sets land near each other, which is enough for
// retrieval tests to rank intuitively.
type FakeEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls int
	// Fail makes the next n calls return this error.
	failsLeft int
	failErr   error
}

// NewFakeEmbedder creates a fake embedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// FailNext makes the next n Embed calls fail with err.
func (f *FakeEmbedder) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failsLeft = n
	f.failErr = err
}

// Calls reports how many Embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Embed hashes each text's words into a fixed-dimension vector.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	if f.failsLeft > 0 {
		f.failsLeft--
		err := f.failErr
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vector(text)
	}
	return vectors, nil
}

func (f *FakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.Dim)
	word := make([]byte, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New32a()
		_, _ = h.Write(word)
		v[int(h.Sum32())%f.Dim] += 1
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\n' || c == '\t' || c == '.' || c == ',' {
			flush()
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		word = append(word, c)
	}
	flush()
	embed.Normalize(v)
	return v
}

// Dimension returns the configured dimension.
func (f *FakeEmbedder) Dimension() int { return f.Dim }

// Model identifies the fake.
func (f *FakeEmbedder) Model() string { return "fake-embedder" }

// FakeConnector serves a fixed document set from memory.
type FakeConnector struct {
	SourceType  string
	Docs        []source.Document
	ValidateErr error

	// Unread, when positive, is reported as a PartialSyncError after the
	// documents stream.
	Unread int
}

// Type returns the configured source type.
func (f *FakeConnector) Type() string { return f.SourceType }

// Validate returns the configured validation error.
func (f *FakeConnector) Validate(context.Context) error { return f.ValidateErr }

// ListDocuments streams the configured documents, honoring the since
// filter on UpdatedAt.
func (f *FakeConnector) ListDocuments(ctx context.Context, since time.Time) (<-chan source.Document, <-chan error) {
	docs := make(chan source.Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		for _, doc := range f.Docs {
			if !since.IsZero() && doc.UpdatedAt.Before(since) {
				continue
			}
			select {
			case docs <- doc:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if f.Unread > 0 {
			errs <- &source.PartialSyncError{Unread: f.Unread}
		}
	}()

	return docs, errs
}
