package obsidian

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sagehq/sage/internal/log"
	"github.com/sagehq/sage/internal/source"
)

func writeVault(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newVaultConnector(t *testing.T, vault string) source.Connector {
	t.Helper()
	c, err := Factory(log.NewNop())(source.Credentials{"vault_path": vault})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	return c
}

func listAll(t *testing.T, c source.Connector, since time.Time) ([]source.Document, error) {
	t.Helper()
	docs, errs := c.ListDocuments(context.Background(), since)
	var got []source.Document
	for doc := range docs {
		got = append(got, doc)
	}
	var lastErr error
	for err := range errs {
		lastErr = err
	}
	sort.Slice(got, func(i, j int) bool { return got[i].NativeID < got[j].NativeID })
	return got, lastErr
}

func TestConnector_ListDocuments(t *testing.T) {
	vault := writeVault(t, map[string]string{
		"daily/monday.md":       "# Monday\nBudget review with #finance tag.",
		"projects/house.md":     "---\ntags: [home, renovation]\n---\nSee [[daily/monday]] for context.",
		"empty.md":              "   \n",
		"notes.txt":             "not markdown",
		".obsidian/plugins.md":  "# internal",
		".trash/old.md":         "# deleted",
	})
	c := newVaultConnector(t, vault)

	got, err := listAll(t, c, time.Time{})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d documents, want 2 (empty, non-md and system files skipped): %+v", len(got), got)
	}

	monday := got[0]
	if monday.NativeID != "daily/monday.md" {
		t.Errorf("NativeID = %q, want daily/monday.md", monday.NativeID)
	}
	if monday.Title != "monday" {
		t.Errorf("Title = %q, want monday", monday.Title)
	}
	if len(monday.Tags) != 1 || monday.Tags[0] != "finance" {
		t.Errorf("Tags = %v, want [finance]", monday.Tags)
	}

	house := got[1]
	if strings.Contains(house.Text, "[[") {
		t.Errorf("wikilinks not stripped: %q", house.Text)
	}
	if !strings.Contains(house.Text, "daily/monday") {
		t.Errorf("wikilink target text lost: %q", house.Text)
	}
	wantTags := map[string]bool{"home": true, "renovation": true}
	for _, tag := range house.Tags {
		if !wantTags[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

func TestConnector_ListDocuments_Since(t *testing.T) {
	vault := writeVault(t, map[string]string{
		"old.md": "# Old note",
		"new.md": "# New note",
	})
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(vault, "old.md"), past, past); err != nil {
		t.Fatal(err)
	}

	c := newVaultConnector(t, vault)
	got, err := listAll(t, c, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(got) != 1 || got[0].NativeID != "new.md" {
		t.Fatalf("got %+v, want only new.md", got)
	}
}

func TestConnector_Validate(t *testing.T) {
	t.Run("valid vault", func(t *testing.T) {
		c := newVaultConnector(t, t.TempDir())
		if err := c.Validate(context.Background()); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("missing vault", func(t *testing.T) {
		c := newVaultConnector(t, filepath.Join(t.TempDir(), "nope"))
		if err := c.Validate(context.Background()); !errors.Is(err, source.ErrAuthentication) {
			t.Errorf("Validate() error = %v, want ErrAuthentication", err)
		}
	})
}

func TestStripFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantBody string
		wantTags []string
	}{
		{
			name:     "no frontmatter",
			in:       "# Title\nbody",
			wantBody: "# Title\nbody",
		},
		{
			name:     "tags list",
			in:       "---\ntitle: x\ntags: [a, b]\n---\nbody",
			wantBody: "body",
			wantTags: []string{"a", "b"},
		},
		{
			name:     "unterminated frontmatter",
			in:       "---\ntags: [a]\nbody without close",
			wantBody: "---\ntags: [a]\nbody without close",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, tags := stripFrontmatter(tt.in)
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if len(tags) != len(tt.wantTags) {
				t.Fatalf("tags = %v, want %v", tags, tt.wantTags)
			}
			for i := range tags {
				if tags[i] != tt.wantTags[i] {
					t.Errorf("tags[%d] = %q, want %q", i, tags[i], tt.wantTags[i])
				}
			}
		})
	}
}
