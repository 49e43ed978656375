// Package source defines the connector contract for external knowledge
// platforms and the registry that maps source type strings to connector
// factories.
//
// A connector turns a third-party platform (note apps, budgeting tools,
// saved articles) into a lazy, finite, restartable stream of normalized
// documents. The concrete wire protocol of each platform stays inside its
// connector package; the rest of the system only sees Document values.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAuthentication indicates the stored credentials were rejected by the
// source platform. User-actionable; surfaced verbatim.
var ErrAuthentication = errors.New("source authentication failed")

// ErrUnknownSourceType indicates no connector is registered for a source
// type string.
var ErrUnknownSourceType = errors.New("unknown source type")

// Document is a normalized document yielded by a connector.
type Document struct {
	// SourceType identifies the connector that produced the document.
	SourceType string

	// NativeID is the document's identity inside the source platform.
	// (userID, SourceType, NativeID) is the global document identity.
	NativeID string

	// Title is a human-readable name used in provenance labels.
	Title string

	// Text is the canonical plain-text content, headings preserved as
	// markdown-style lines.
	Text string

	// Tags are free-form labels carried from the source.
	Tags []string

	// UpdatedAt is the source-side last modification time. Sync uses it
	// to skip unchanged documents.
	UpdatedAt time.Time
}

// PartialSyncError reports that some documents could not be read. The
// connector yields everything it can and sends this on the error channel
// instead of aborting on the first unreachable item.
type PartialSyncError struct {
	// Unread is the number of documents that could not be fetched.
	Unread int
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("partial sync: %d documents unread", e.Unread)
}

// Connector is the capability set every source integration implements.
//
// ListDocuments streams documents on the first channel and terminates by
// closing both channels. A *PartialSyncError on the error channel is a
// normal outcome; any other error aborts the stream. The stream is finite
// and restartable: calling ListDocuments again re-reads from scratch.
type Connector interface {
	// Type returns the source type identifier ("notion", "obsidian", ...).
	Type() string

	// Validate checks credentials with one lightweight read call.
	// Invalid credentials return ErrAuthentication (wrapped).
	Validate(ctx context.Context) error

	// ListDocuments yields all documents modified at or after since.
	// A zero since means everything.
	ListDocuments(ctx context.Context, since time.Time) (<-chan Document, <-chan error)
}

// Credentials are opaque source-specific secrets, owned by the connector
// that consumes them.
type Credentials map[string]string

// Factory builds a connector for one user's credentials.
type Factory func(creds Credentials) (Connector, error)

// Registry maps source type strings to connector factories.
// Registration happens at startup; lookups are read-only afterwards, so no
// locking is needed.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for sourceType, replacing any previous one.
func (r *Registry) Register(sourceType string, f Factory) {
	r.factories[sourceType] = f
}

// Types returns the registered source type identifiers.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Connector builds a connector of the given type with the given credentials.
func (r *Registry) Connector(sourceType string, creds Credentials) (Connector, error) {
	f, ok := r.factories[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return f(creds)
}
