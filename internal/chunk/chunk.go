// Package chunk splits normalized document text into overlapping windows
// sized for embedding. Markdown-style heading lines act as soft boundaries
// so a chunk prefers to end where a new section begins.
//
// Splitting is deterministic: the same document text always produces the
// same chunks with the same IDs, which makes re-syncing an unchanged
// document a no-op downstream.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSize is the default chunk window in bytes, roughly 500
	// tokens at 4 bytes per token.
	DefaultSize = 2000

	// DefaultOverlap is the default overlap between adjacent windows.
	DefaultOverlap = 300

	// DefaultMinSize is the smallest chunk emitted on its own; shorter
	// trailing text merges into the previous chunk.
	DefaultMinSize = 200
)

// Chunk is one window of a document's text.
type Chunk struct {
	// ID is derived from the document ID and byte offset, stable across
	// re-chunking of identical text.
	ID string

	// DocumentID identifies the source document.
	DocumentID string

	// Seq is the zero-based position of the chunk within its document.
	Seq int

	// Offset is the byte offset of Text within the document.
	Offset int

	// Text is the chunk content.
	Text string
}

// Chunker splits text with a fixed policy.
type Chunker struct {
	size    int
	overlap int
	minSize int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the window size in bytes.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between adjacent windows in bytes.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinSize sets the smallest standalone chunk in bytes.
func WithMinSize(minSize int) Option {
	return func(c *Chunker) {
		if minSize >= 0 {
			c.minSize = minSize
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
		minSize: DefaultMinSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	if c.minSize > c.size {
		c.minSize = c.size
	}
	return c
}

// Split chunks a document's text. Empty or whitespace-only text produces no
// chunks. Text at or under the window size produces exactly one chunk.
func (c *Chunker) Split(documentID, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if len(text) <= c.size {
		return []Chunk{c.newChunk(documentID, 0, 0, text)}
	}

	boundaries := headingOffsets(text)

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.size
		atHeading := false
		if end >= len(text) {
			end = len(text)
		} else if cut, ok := softCut(boundaries, start+c.minSize, end); ok {
			end = cut
			atHeading = true
		} else {
			end = runeCut(text, end)
			if end <= start {
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
		}

		remainder := len(text) - end
		if remainder > 0 && remainder < c.minSize {
			// A short tail would make a fragment chunk; absorb it.
			end = len(text)
			atHeading = false
		}

		chunks = append(chunks, c.newChunk(documentID, len(chunks), start, text[start:end]))

		if end == len(text) {
			break
		}
		// A heading cut starts the next chunk exactly at the heading;
		// only mid-section cuts carry overlap.
		if atHeading {
			start = end
		} else if next := runeCut(text, end-c.overlap); next > start {
			start = next
		} else {
			start = end
		}
	}

	return chunks
}

func (c *Chunker) newChunk(documentID string, seq, offset int, text string) Chunk {
	return Chunk{
		ID:         ChunkID(documentID, offset),
		DocumentID: documentID,
		Seq:        seq,
		Offset:     offset,
		Text:       text,
	}
}

// ChunkID derives a stable chunk identifier from the document ID and the
// chunk's byte offset.
func ChunkID(documentID string, offset int) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:%d", documentID, offset))
	return "chunk_" + hex.EncodeToString(hash[:16])
}

// runeCut moves i back to the nearest rune start so a window edge never
// splits a multi-byte rune.
func runeCut(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// headingOffsets returns the byte offsets of markdown-style heading lines.
func headingOffsets(text string) []int {
	var offsets []int
	lineStart := 0
	for {
		line := text[lineStart:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		if isHeading(line) {
			offsets = append(offsets, lineStart)
		}
		nl := strings.IndexByte(text[lineStart:], '\n')
		if nl < 0 {
			break
		}
		lineStart += nl + 1
		if lineStart >= len(text) {
			break
		}
	}
	return offsets
}

func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, "#")
	return len(trimmed) < len(line) && strings.HasPrefix(trimmed, " ")
}

// softCut returns the largest heading offset in (min, max], if any. Cutting
// at a heading keeps a section intact at the start of the next chunk.
func softCut(boundaries []int, min, max int) (int, bool) {
	cut, found := 0, false
	for _, b := range boundaries {
		if b > min && b <= max {
			cut, found = b, true
		}
		if b > max {
			break
		}
	}
	return cut, found
}
