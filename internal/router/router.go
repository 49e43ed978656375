// Package router sends chat requests to generation providers. A query is
// classified into a complexity tier; each tier holds an ordered provider
// list tried with a per-provider timeout until one answers.
//
// Providers are data, not code: the same OpenAI-compatible implementation
// serves multiple vendors, so adding a provider is a configuration change.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrGenerationUnavailable indicates every provider in the tier failed.
// Callers show a generic message; provider internals stay in the logs.
var ErrGenerationUnavailable = errors.New("no generation provider available")

// defaultSystemPrompt frames the assistant when the caller supplies none.
const defaultSystemPrompt = `You are a personal assistant answering from the user's own connected knowledge.
Ground answers in the numbered context passages when they are relevant and cite them as [n].
If the context does not contain the answer, say so plainly instead of guessing.`

// Message is one chat message.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Passage is one retrieved context block offered to the model.
type Passage struct {
	// Label names the origin, e.g. "notion/Budget Notes".
	Label string

	// Content is the passage text.
	Content string
}

// Request is a generation request.
type Request struct {
	// System overrides the default system prompt when non-empty.
	System string

	// Passages are numbered into the prompt in order.
	Passages []Passage

	// History is the recent conversation window, oldest first.
	History []Message

	// Query is the user's current message.
	Query string
}

// Messages assembles the full prompt: system + context, history, query.
func (r Request) Messages() []Message {
	system := r.System
	if system == "" {
		system = defaultSystemPrompt
	}

	if len(r.Passages) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext passages:\n")
		for i, p := range r.Passages {
			fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, p.Label, p.Content)
		}
		system = b.String()
	}

	msgs := make([]Message, 0, len(r.History)+2)
	msgs = append(msgs, Message{Role: "system", Content: system})
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: "user", Content: r.Query})
	return msgs
}

// Provider produces a completion for an assembled message list.
type Provider interface {
	Name() string
	Generate(ctx context.Context, msgs []Message) (string, error)
}

// Result is a successful generation.
type Result struct {
	Text string

	// Provider names the provider that answered.
	Provider string

	Complexity Complexity
}

// Router classifies and dispatches generation requests.
type Router struct {
	simple         []Provider
	complex        []Provider
	simpleTimeout  time.Duration
	complexTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Router. Each tier needs at least one provider; tiers may
// share providers in different orders.
func New(simple, complex []Provider, simpleTimeout, complexTimeout time.Duration, logger *slog.Logger) (*Router, error) {
	if len(simple) == 0 || len(complex) == 0 {
		return nil, fmt.Errorf("both tiers need at least one provider")
	}
	if simpleTimeout <= 0 || complexTimeout <= 0 {
		return nil, fmt.Errorf("tier timeouts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		simple:         simple,
		complex:        complex,
		simpleTimeout:  simpleTimeout,
		complexTimeout: complexTimeout,
		logger:         logger,
	}, nil
}

// Generate classifies the query and walks the tier's provider list until
// one answers. Provider failures are invisible to the caller unless the
// whole list is exhausted.
func (r *Router) Generate(ctx context.Context, req Request) (Result, error) {
	complexity := Classify(req.Query)

	providers, timeout := r.simple, r.simpleTimeout
	if complexity == Complex {
		providers, timeout = r.complex, r.complexTimeout
	}

	msgs := req.Messages()

	var lastErr error
	for _, provider := range providers {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		text, err := provider.Generate(callCtx, msgs)
		cancel()

		if err == nil {
			return Result{Text: text, Provider: provider.Name(), Complexity: complexity}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		lastErr = err
		r.logger.Warn("provider failed, advancing to fallback",
			"provider", provider.Name(), "complexity", complexity, "error", err)
	}

	return Result{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, lastErr)
}
