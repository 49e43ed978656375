package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sagehq/sage/internal/log"
	"github.com/sagehq/sage/internal/source"
)

// fakeNotion serves a minimal slice of the Notion API: two pages, one of
// which has unreadable blocks.
func fakeNotion(t *testing.T, failBlocksFor string) *httptest.Server {
	t.Helper()

	page := func(id, title string, edited time.Time) map[string]any {
		return map[string]any{
			"object":           "page",
			"id":               id,
			"last_edited_time": edited.Format(time.RFC3339),
			"properties": map[string]any{
				"Name": map[string]any{
					"type":  "title",
					"title": []map[string]any{{"type": "text", "plain_text": title}},
				},
			},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"object":"user"}`)
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"object": "list",
			"results": []any{
				page("page-1", "Budget Planning", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
				page("page-2", "Old Notes", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			},
			"has_more": false,
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/blocks/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		blockID := parts[3]
		if blockID == failBlocksFor {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"object": "list",
			"results": []map[string]any{
				{
					"object": "block", "id": blockID + "-b1", "type": "heading_1",
					"heading_1": map[string]any{
						"rich_text": []map[string]any{{"type": "text", "plain_text": "Overview"}},
					},
				},
				{
					"object": "block", "id": blockID + "-b2", "type": "paragraph",
					"paragraph": map[string]any{
						"rich_text": []map[string]any{{"type": "text", "plain_text": "Monthly budget notes."}},
					},
				},
			},
			"has_more": false,
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func newTestConnector(t *testing.T, srv *httptest.Server, token string) source.Connector {
	t.Helper()
	factory := Factory(log.NewNop(), 0)
	c, err := factory(source.Credentials{"token": token, "api_base": srv.URL})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	return c
}

func TestConnector_Validate(t *testing.T) {
	srv := fakeNotion(t, "")
	defer srv.Close()

	t.Run("good credentials", func(t *testing.T) {
		c := newTestConnector(t, srv, "good-token")
		if err := c.Validate(context.Background()); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		c := newTestConnector(t, srv, "bad-token")
		err := c.Validate(context.Background())
		if !errors.Is(err, source.ErrAuthentication) {
			t.Errorf("Validate() error = %v, want ErrAuthentication", err)
		}
	})
}

func TestConnector_ListDocuments(t *testing.T) {
	srv := fakeNotion(t, "")
	defer srv.Close()
	c := newTestConnector(t, srv, "good-token")

	docs, errs := c.ListDocuments(context.Background(), time.Time{})

	var got []source.Document
	for doc := range docs {
		got = append(got, doc)
	}
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d documents, want 2", len(got))
	}
	if got[0].Title != "Budget Planning" {
		t.Errorf("Title = %q, want %q", got[0].Title, "Budget Planning")
	}
	if !strings.Contains(got[0].Text, "# Overview") {
		t.Errorf("Text missing heading marker: %q", got[0].Text)
	}
	if got[0].SourceType != SourceType {
		t.Errorf("SourceType = %q, want %q", got[0].SourceType, SourceType)
	}
}

func TestConnector_ListDocuments_Since(t *testing.T) {
	srv := fakeNotion(t, "")
	defer srv.Close()
	c := newTestConnector(t, srv, "good-token")

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	docs, errs := c.ListDocuments(context.Background(), since)

	var got []source.Document
	for doc := range docs {
		got = append(got, doc)
	}
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1 (page-2 predates since)", len(got))
	}
	if got[0].NativeID != "page-1" {
		t.Errorf("NativeID = %q, want page-1", got[0].NativeID)
	}
}

func TestConnector_ListDocuments_PartialFailure(t *testing.T) {
	srv := fakeNotion(t, "page-2")
	defer srv.Close()
	c := newTestConnector(t, srv, "good-token")

	docs, errs := c.ListDocuments(context.Background(), time.Time{})

	var got []source.Document
	for doc := range docs {
		got = append(got, doc)
	}

	var partial *source.PartialSyncError
	for err := range errs {
		if !errors.As(err, &partial) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1 readable page", len(got))
	}
	if partial == nil {
		t.Fatal("expected PartialSyncError for unreadable page")
	}
	if partial.Unread != 1 {
		t.Errorf("Unread = %d, want 1", partial.Unread)
	}
}

func TestExtractText_BlockTypes(t *testing.T) {
	blocks := []Block{
		{Type: "heading_2", Heading2: &TextBlock{RichText: []RichText{{PlainText: "Goals"}}}},
		{Type: "bulleted_list_item", BulletedListItem: &TextBlock{RichText: []RichText{{PlainText: "save more"}}}},
		{Type: "to_do", ToDo: &ToDoBlock{RichText: []RichText{{PlainText: "review budget"}}, Checked: true}},
		{Type: "unsupported_widget"},
		{Type: "code", Code: &CodeBlock{RichText: []RichText{{PlainText: "x := 1"}}, Language: "go"}},
	}

	text := ExtractText(blocks)

	for _, want := range []string{"## Goals", "- save more", "[x] review budget", "```go\nx := 1\n```"} {
		if !strings.Contains(text, want) {
			t.Errorf("ExtractText() missing %q in %q", want, text)
		}
	}
}
