package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunking policy. Splits target 1200 characters and are accepted anywhere
// in the 1000..1500 band when a natural separator exists there; otherwise
// the text is cut hard at the target. Consecutive chunks overlap by 200
// characters.
const (
	chunkTarget  = 1200
	chunkMin     = 1000
	chunkMax     = 1500
	chunkOverlap = 200
)

// separators in priority order; the empty string means a hard cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits extracted text into overlapping retrieval chunks.
type Chunker struct {
	target     int
	min        int
	max        int
	overlap    int
	separators []string
}

// NewChunker creates a chunker with the standard splitting policy.
func NewChunker() *Chunker {
	return &Chunker{
		target:     chunkTarget,
		min:        chunkMin,
		max:        chunkMax,
		overlap:    chunkOverlap,
		separators: separators,
	}
}

// Split breaks content into chunks. Whitespace-only pieces are dropped and
// every returned chunk is trimmed.
func (c *Chunker) Split(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= c.max {
		return []string{content}
	}

	var chunks []string
	pos := 0
	for pos < len(content) {
		remaining := content[pos:]
		if len(remaining) <= c.max {
			if t := strings.TrimSpace(remaining); t != "" {
				chunks = append(chunks, t)
			}
			break
		}

		cut := c.findSplit(remaining)
		if t := strings.TrimSpace(remaining[:cut]); t != "" {
			chunks = append(chunks, t)
		}

		advance := cut - c.overlap
		if advance <= 0 {
			advance = cut
		}
		pos += advance
		for pos < len(content) && !utf8.RuneStart(content[pos]) {
			pos++
		}
	}
	return chunks
}

// findSplit returns the byte offset to cut at. Separators are tried in
// priority order; a match counts when it leaves at least min characters in
// the chunk. The empty separator cuts at the target, backed off to a rune
// boundary.
func (c *Chunker) findSplit(text string) int {
	window := text[:c.max]

	for _, sep := range c.separators {
		if sep == "" {
			return runeBoundary(text, c.target)
		}
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := idx + len(sep)
		if cut >= c.min {
			return cut
		}
	}
	return runeBoundary(text, c.target)
}

func runeBoundary(text string, cut int) int {
	for cut > 0 && cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

// ChunkDocument splits content and prefixes every chunk with the document
// display name and a blank line, so each embedded chunk names the document
// it came from.
func (c *Chunker) ChunkDocument(displayName, content string) []string {
	chunks := c.Split(content)
	if displayName == "" {
		return chunks
	}
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = displayName + "\n\n" + chunk
	}
	return out
}
