package notion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sagehq/sage/internal/source"
)

// SourceType is the registry key for the Notion connector.
const SourceType = "notion"

// Connector streams Notion pages as documents.
type Connector struct {
	client *Client
	logger *slog.Logger
}

// Factory builds the registry factory for Notion. Recognized credentials:
// "token" (required), "api_base" (test override). pageTimeout bounds each
// API request.
func Factory(logger *slog.Logger, pageTimeout time.Duration) source.Factory {
	return func(creds source.Credentials) (source.Connector, error) {
		client, err := NewClient(creds["token"], creds["api_base"], pageTimeout)
		if err != nil {
			return nil, fmt.Errorf("notion connector: %w", err)
		}
		if logger == nil {
			logger = slog.Default()
		}
		return &Connector{client: client, logger: logger}, nil
	}
}

// Type returns the source type identifier.
func (c *Connector) Type() string { return SourceType }

// Validate checks the token with a single lightweight call.
func (c *Connector) Validate(ctx context.Context) error {
	return c.client.Me(ctx)
}

// ListDocuments streams all pages edited at or after since. Pages whose
// content cannot be fetched are counted and reported through a
// PartialSyncError; the stream continues.
func (c *Connector) ListDocuments(ctx context.Context, since time.Time) (<-chan source.Document, <-chan error) {
	docs := make(chan source.Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		pages, err := c.client.SearchPages(ctx)
		if err != nil {
			errs <- fmt.Errorf("listing notion pages: %w", err)
			return
		}

		unread := 0
		for _, page := range pages {
			if !since.IsZero() && page.LastEditedTime.Before(since) {
				continue
			}

			blocks, err := c.client.BlockChildren(ctx, page.ID)
			if err != nil {
				c.logger.Warn("skipping unreadable notion page",
					"page_id", page.ID, "error", err)
				unread++
				continue
			}

			text := ExtractText(blocks)
			if strings.TrimSpace(text) == "" {
				continue // empty pages produce no documents
			}

			doc := source.Document{
				SourceType: SourceType,
				NativeID:   page.ID,
				Title:      PageTitle(&page),
				Text:       text,
				UpdatedAt:  page.LastEditedTime,
			}

			select {
			case docs <- doc:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if unread > 0 {
			errs <- &source.PartialSyncError{Unread: unread}
		}
	}()

	return docs, errs
}
