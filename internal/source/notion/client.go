// Package notion implements the Notion source connector. Pages shared with
// the integration token become documents; block content is flattened to
// plain text with headings preserved.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sagehq/sage/internal/source"
)

const (
	// DefaultAPIBase is the production Notion API endpoint.
	DefaultAPIBase = "https://api.notion.com"

	// apiVersion is the Notion-Version header value.
	apiVersion = "2022-06-28"
)

// Client is a lightweight Notion API client.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// defaultPageTimeout bounds one API request when no timeout is configured.
const defaultPageTimeout = 30 * time.Second

// NewClient creates a Notion API client. apiBase overrides the endpoint for
// tests; empty means DefaultAPIBase. A non-positive pageTimeout falls back
// to defaultPageTimeout.
func NewClient(token, apiBase string, pageTimeout time.Duration) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("notion token is required")
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}

	return &Client{
		token:   token,
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: pageTimeout,
		},
	}, nil
}

// Me performs the lightest possible authenticated call, used for credential
// validation.
func (c *Client) Me(ctx context.Context) error {
	return c.makeRequest(ctx, http.MethodGet, c.apiBase+"/v1/users/me", nil, nil)
}

// SearchPages returns all pages accessible to the integration, following
// pagination to the end.
func (c *Client) SearchPages(ctx context.Context) ([]Page, error) {
	var pages []Page
	cursor := ""

	for {
		req := SearchRequest{
			Filter:   &SearchFilter{Property: "object", Value: "page"},
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		var resp SearchResponse
		if err := c.makeRequest(ctx, http.MethodPost, c.apiBase+"/v1/search", req, &resp); err != nil {
			return nil, fmt.Errorf("searching pages: %w", err)
		}

		for _, raw := range resp.Results {
			var objCheck struct {
				Object string `json:"object"`
			}
			if err := json.Unmarshal(raw, &objCheck); err != nil || objCheck.Object != "page" {
				continue // databases and unparseable results are skipped
			}
			var page Page
			if err := json.Unmarshal(raw, &page); err != nil {
				continue
			}
			pages = append(pages, page)
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return pages, nil
}

// BlockChildren retrieves the child blocks of a block (or page), following
// pagination and recursing into nested blocks.
func (c *Client) BlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""

	for {
		url := fmt.Sprintf("%s/v1/blocks/%s/children", c.apiBase, blockID)
		if cursor != "" {
			url += "?start_cursor=" + cursor
		}

		var resp BlockChildrenResponse
		if err := c.makeRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetching block children: %w", err)
		}

		blocks = append(blocks, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	var all []Block
	for _, block := range blocks {
		all = append(all, block)
		if block.HasChildren {
			children, err := c.BlockChildren(ctx, block.ID)
			if err != nil {
				// Nested fetch failures degrade to the parent's own text.
				continue
			}
			all = append(all, children...)
		}
	}

	return all, nil
}

func (c *Client) makeRequest(ctx context.Context, method, url string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: notion API status %d", source.ErrAuthentication, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notion API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}

	return nil
}

// ExtractText flattens blocks to plain text. Headings keep markdown-style
// prefixes so downstream chunking can use them as soft boundaries.
func ExtractText(blocks []Block) string {
	var b strings.Builder

	for _, block := range blocks {
		var text string

		switch block.Type {
		case "paragraph":
			if block.Paragraph != nil {
				text = richTextString(block.Paragraph.RichText)
			}
		case "heading_1":
			if block.Heading1 != nil {
				text = "# " + richTextString(block.Heading1.RichText)
			}
		case "heading_2":
			if block.Heading2 != nil {
				text = "## " + richTextString(block.Heading2.RichText)
			}
		case "heading_3":
			if block.Heading3 != nil {
				text = "### " + richTextString(block.Heading3.RichText)
			}
		case "bulleted_list_item":
			if block.BulletedListItem != nil {
				text = "- " + richTextString(block.BulletedListItem.RichText)
			}
		case "numbered_list_item":
			if block.NumberedListItem != nil {
				text = "- " + richTextString(block.NumberedListItem.RichText)
			}
		case "code":
			if block.Code != nil {
				text = fmt.Sprintf("```%s\n%s\n```", block.Code.Language, richTextString(block.Code.RichText))
			}
		case "quote":
			if block.Quote != nil {
				text = "> " + richTextString(block.Quote.RichText)
			}
		case "callout":
			if block.Callout != nil {
				text = richTextString(block.Callout.RichText)
			}
		case "to_do":
			if block.ToDo != nil {
				box := "[ ]"
				if block.ToDo.Checked {
					box = "[x]"
				}
				text = box + " " + richTextString(block.ToDo.RichText)
			}
		default:
			continue // unsupported block types are skipped
		}

		if text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(b.String())
}

func richTextString(spans []RichText) string {
	var parts []string
	for _, span := range spans {
		parts = append(parts, span.PlainText)
	}
	return strings.Join(parts, "")
}

// PageTitle extracts the title from a page's properties. The property name
// varies, but its type is always "title".
func PageTitle(page *Page) string {
	for _, prop := range page.Properties {
		if prop.Type == "title" && len(prop.Title) > 0 {
			return richTextString(prop.Title)
		}
	}
	return "Untitled"
}
