// Package webclip implements the saved-article source connector. It fetches
// a user-maintained list of URLs and extracts the readable article text,
// discarding navigation, ads and boilerplate.
package webclip

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/sagehq/sage/internal/source"
)

// SourceType is the registry key for the web clip connector.
const SourceType = "webclip"

// defaultFetchTimeout bounds a single article download when no timeout is
// configured.
const defaultFetchTimeout = 30 * time.Second

// Connector streams saved articles as documents.
type Connector struct {
	urls       []string
	httpClient *http.Client
	logger     *slog.Logger
}

// Factory builds the registry factory for web clips. Recognized credentials:
// "urls" (required), a newline-separated list of article URLs. fetchTimeout
// bounds each article download.
func Factory(logger *slog.Logger, fetchTimeout time.Duration) source.Factory {
	return func(creds source.Credentials) (source.Connector, error) {
		urls := splitURLs(creds["urls"])
		if len(urls) == 0 {
			return nil, fmt.Errorf("webclip connector: at least one url is required")
		}
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, fmt.Errorf("webclip connector: invalid url %q", raw)
			}
		}
		if logger == nil {
			logger = slog.Default()
		}
		if fetchTimeout <= 0 {
			fetchTimeout = defaultFetchTimeout
		}
		return &Connector{
			urls:       urls,
			httpClient: &http.Client{Timeout: fetchTimeout},
			logger:     logger,
		}, nil
	}
}

func splitURLs(raw string) []string {
	var urls []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	return urls
}

// Type returns the source type identifier.
func (c *Connector) Type() string { return SourceType }

// Validate fetches the first URL's headers. A URL list needs no secret, so
// this checks reachability rather than authentication.
func (c *Connector) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.urls[0], nil)
	if err != nil {
		return fmt.Errorf("webclip validate: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webclip validate: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webclip validate: %s returned status %d", c.urls[0], resp.StatusCode)
	}
	return nil
}

// ListDocuments fetches every saved URL and streams one document per
// readable article. Articles carry no source-side modification time, so
// every document is yielded with the fetch time and the since parameter is
// ignored; dedup happens downstream on content identity. Unreachable or
// unreadable pages are counted and reported through a PartialSyncError.
func (c *Connector) ListDocuments(ctx context.Context, _ time.Time) (<-chan source.Document, <-chan error) {
	docs := make(chan source.Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		unread := 0
		for _, articleURL := range c.urls {
			doc, err := c.fetchArticle(ctx, articleURL)
			if err != nil {
				if ctx.Err() != nil {
					errs <- ctx.Err()
					return
				}
				c.logger.Warn("skipping unreadable article",
					"url", articleURL, "error", err)
				unread++
				continue
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

func (c *Connector) fetchArticle(ctx context.Context, articleURL string) (source.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return source.Document{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Document{}, fmt.Errorf("fetching article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return source.Document{}, fmt.Errorf("fetching article: status %d", resp.StatusCode)
	}

	pageURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return source.Document{}, fmt.Errorf("extracting article text: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return source.Document{}, fmt.Errorf("no readable content at %s", articleURL)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = articleURL
	}

	var tags []string
	if article.SiteName != "" {
		tags = []string{article.SiteName}
	}

	return source.Document{
		SourceType: SourceType,
		NativeID:   articleURL,
		Title:      title,
		Text:       text,
		Tags:       tags,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}
