package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of texts sent per backend request.
	DefaultBatchSize = 64

	// maxAttempts bounds retries per batch.
	maxAttempts = 3

	// baseBackoff is the first retry delay; it doubles per attempt.
	baseBackoff = 500 * time.Millisecond
)

// Gateway batches texts, retries transient failures and respects a request
// rate limit. It is safe for concurrent use.
type Gateway struct {
	embedder  Embedder
	batchSize int
	limiter   *rate.Limiter
	backoff   time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithBatchSize sets the per-request batch size.
func WithBatchSize(size int) GatewayOption {
	return func(g *Gateway) {
		if size > 0 {
			g.batchSize = size
		}
	}
}

// WithRateLimit caps backend requests per second.
func WithRateLimit(perSecond float64) GatewayOption {
	return func(g *Gateway) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTimeout bounds each backend request. A request that exceeds the
// deadline counts as a transient failure and is retried. Zero disables the
// per-request deadline.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// withBackoff shortens retry delays in tests.
func withBackoff(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.backoff = d }
}

// NewGateway wraps an embedder.
func NewGateway(embedder Embedder, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		backoff:   baseBackoff,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dimension reports the underlying embedder's vector dimension.
func (g *Gateway) Dimension() int { return g.embedder.Dimension() }

// Model reports the underlying embedder's model identifier.
func (g *Gateway) Model() string { return g.embedder.Model() }

// Embed returns one vector per input text, in input order. An empty input
// returns an empty result without touching the backend. If any batch still
// fails after retries, the whole call fails with ErrEmbeddingUnavailable
// wrapped around the last backend error.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx := ctx
		cancel := func() {}
		if g.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
		}
		vectors, err := g.embedder.Embed(attemptCtx, texts)
		cancel()
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("%w: got %d vectors for %d texts",
					ErrEmbeddingUnavailable, len(vectors), len(texts))
			}
			return vectors, nil
		}
		// Caller cancellation ends the batch; an expired per-request
		// deadline is a transient failure like any other.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt < maxAttempts {
			delay := g.backoff << (attempt - 1)
			g.logger.Warn("embedding batch failed, retrying",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}
