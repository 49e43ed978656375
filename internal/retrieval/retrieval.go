// Package retrieval plans and executes context lookups: embed the query,
// search the user's index, filter weak hits and spread the result across
// documents so one long document cannot crowd out the rest.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sagehq/sage/internal/embed"
	"github.com/sagehq/sage/internal/index"
)

const (
	// DefaultTopK is the default result count.
	DefaultTopK = 10

	// DefaultThreshold is the minimum cosine similarity kept.
	DefaultThreshold = 0.25

	// DefaultMaxPerDocument caps chunks per source document.
	DefaultMaxPerDocument = 2
)

// Chunk is a retrieval hit with its provenance label.
type Chunk struct {
	index.Scored

	// Label names the origin as "sourceType/Title" for citations.
	Label string
}

// options collects per-call settings.
type options struct {
	topK        int
	threshold   float64
	maxPerDoc   int
	sourceTypes []string
}

// Option adjusts one retrieval call.
type Option func(*options)

// WithTopK sets the maximum number of results.
func WithTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithThreshold sets the minimum similarity kept.
func WithThreshold(threshold float64) Option {
	return func(o *options) { o.threshold = threshold }
}

// WithSourceTypes restricts results to the given connectors.
func WithSourceTypes(types ...string) Option {
	return func(o *options) { o.sourceTypes = types }
}

// WithMaxPerDocument caps how many chunks one document may contribute.
func WithMaxPerDocument(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPerDoc = n
		}
	}
}

// Planner executes retrievals against one index.
type Planner struct {
	gateway   *embed.Gateway
	idx       index.Index
	logger    *slog.Logger
	threshold float64
	topK      int
	maxPerDoc int
}

// New creates a Planner. threshold and topK set the per-call defaults;
// defaults carries further Option defaults (per-document cap, source
// filter) that individual Retrieve calls may override.
func New(gateway *embed.Gateway, idx index.Index, threshold float64, topK int, logger *slog.Logger, defaults ...Option) (*Planner, error) {
	if gateway == nil || idx == nil {
		return nil, fmt.Errorf("gateway and index are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	o := options{maxPerDoc: DefaultMaxPerDocument}
	for _, opt := range defaults {
		opt(&o)
	}

	return &Planner{
		gateway:   gateway,
		idx:       idx,
		logger:    logger,
		threshold: threshold,
		topK:      topK,
		maxPerDoc: o.maxPerDoc,
	}, nil
}

// Retrieve returns the user's most relevant chunks for the query, ordered
// by similarity. An empty result is a valid outcome, not an error.
func (p *Planner) Retrieve(ctx context.Context, userID, query string, opts ...Option) ([]Chunk, error) {
	if userID == "" {
		return nil, index.ErrUserIDRequired
	}
	if query == "" {
		return nil, nil
	}

	o := options{
		topK:      p.topK,
		threshold: p.threshold,
		maxPerDoc: p.maxPerDoc,
	}
	for _, opt := range opts {
		opt(&o)
	}

	vectors, err := p.gateway.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch so the per-document cap still fills topK when one
	// document dominates the raw ranking.
	fetchK := o.topK * o.maxPerDoc
	hits, err := p.idx.Query(ctx, userID, vectors[0], fetchK, index.QueryFilter{
		SourceTypes: o.sourceTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	perDoc := make(map[string]int)
	results := make([]Chunk, 0, o.topK)
	for _, hit := range hits {
		if hit.Score < o.threshold {
			break // hits are ordered; everything after is weaker
		}
		docKey := hit.Chunk.SourceType + "/" + hit.Chunk.DocumentID
		if perDoc[docKey] >= o.maxPerDoc {
			continue
		}
		perDoc[docKey]++

		results = append(results, Chunk{
			Scored: hit,
			Label:  hit.Chunk.SourceType + "/" + hit.Chunk.Title,
		})
		if len(results) >= o.topK {
			break
		}
	}

	p.logger.Debug("retrieval complete",
		"user_id", userID, "raw_hits", len(hits), "kept", len(results))
	return results, nil
}
