// Package obsidian implements the Obsidian source connector: a local
// markdown vault walked from disk. No credentials beyond the vault path are
// needed.
package obsidian

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sagehq/sage/internal/source"
)

// SourceType is the registry key for the Obsidian connector.
const SourceType = "obsidian"

// skippedDirs are Obsidian system folders excluded from the walk.
var skippedDirs = map[string]bool{
	".obsidian":    true,
	".trash":       true,
	".git":         true,
	"node_modules": true,
}

var (
	inlineTagRe = regexp.MustCompile(`#([a-zA-Z0-9_/-]+)`)
	wikilinkRe  = regexp.MustCompile(`\[\[([^\]|]+)(\|[^\]]+)?\]\]`)
)

// Connector walks a markdown vault directory.
type Connector struct {
	vaultPath string
	logger    *slog.Logger
}

// Factory builds the registry factory for Obsidian. Recognized credentials:
// "vault_path" (required).
func Factory(logger *slog.Logger) source.Factory {
	return func(creds source.Credentials) (source.Connector, error) {
		path := creds["vault_path"]
		if path == "" {
			return nil, fmt.Errorf("obsidian connector: vault_path is required")
		}
		if logger == nil {
			logger = slog.Default()
		}
		return &Connector{vaultPath: path, logger: logger}, nil
	}
}

// Type returns the source type identifier.
func (c *Connector) Type() string { return SourceType }

// Validate checks that the vault path exists and is a readable directory.
func (c *Connector) Validate(_ context.Context) error {
	info, err := os.Stat(c.vaultPath)
	if err != nil {
		return fmt.Errorf("%w: vault %q: %v", source.ErrAuthentication, c.vaultPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: vault %q is not a directory", source.ErrAuthentication, c.vaultPath)
	}
	return nil
}

// ListDocuments walks the vault and yields one document per markdown file
// modified at or after since. Unreadable files are counted into a
// PartialSyncError; the walk continues.
func (c *Connector) ListDocuments(ctx context.Context, since time.Time) (<-chan source.Document, <-chan error) {
	docs := make(chan source.Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		unread := 0
		walkErr := filepath.WalkDir(c.vaultPath, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				unread++
				return nil
			}
			if d.IsDir() {
				if skippedDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				unread++
				return nil
			}
			if !since.IsZero() && info.ModTime().Before(since) {
				return nil
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				c.logger.Warn("skipping unreadable vault file", "path", path, "error", err)
				unread++
				return nil
			}

			text, fmTags := stripFrontmatter(string(raw))
			text = wikilinkRe.ReplaceAllString(text, "$1")
			if strings.TrimSpace(text) == "" {
				return nil
			}

			rel, err := filepath.Rel(c.vaultPath, path)
			if err != nil {
				rel = path
			}

			doc := source.Document{
				SourceType: SourceType,
				NativeID:   filepath.ToSlash(rel),
				Title:      strings.TrimSuffix(d.Name(), ".md"),
				Text:       text,
				Tags:       collectTags(text, fmTags),
				UpdatedAt:  info.ModTime(),
			}

			select {
			case docs <- doc:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		if walkErr != nil {
			errs <- fmt.Errorf("walking vault: %w", walkErr)
			return
		}
		if unread > 0 {
			errs <- &source.PartialSyncError{Unread: unread}
		}
	}()

	return docs, errs
}

// stripFrontmatter removes a leading YAML frontmatter block and returns the
// remaining content plus any tags declared in the frontmatter.
func stripFrontmatter(content string) (string, []string) {
	if !strings.HasPrefix(content, "---\n") {
		return content, nil
	}

	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content, nil
	}

	front := rest[:end]
	body := rest[end+4:]
	body = strings.TrimPrefix(body, "\n")

	var tags []string
	for _, line := range strings.Split(front, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "tags:") {
			continue
		}
		val := strings.TrimSpace(strings.TrimPrefix(line, "tags:"))
		val = strings.Trim(val, "[]")
		for _, tag := range strings.Split(val, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	return body, tags
}

// collectTags merges frontmatter tags with inline #tags, deduplicated.
func collectTags(text string, fmTags []string) []string {
	seen := make(map[string]bool)
	var tags []string

	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, tag := range fmTags {
		add(tag)
	}
	for _, m := range inlineTagRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return tags
}
