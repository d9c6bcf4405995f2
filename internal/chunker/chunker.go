// Package chunker splits document content into overlapping, position-tracked
// chunks for indexing.
//
// Positions are rune offsets into the original content. Chunks assembled from
// several paragraphs use "\n\n" as a joiner, which is not counted in the
// recorded positions, so content[start:end] may differ from the chunk text by
// joiners only.
package chunker

import (
	"regexp"
	"strings"
)

// Defaults match the index configuration.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var paragraphPattern = regexp.MustCompile(`\n\s*\n`)

// sentenceBoundaries are checked in order; the position just after a match is
// a valid break point for oversized paragraphs.
var sentenceBoundaries = []string{".\n", ". ", "!\n", "! ", "?\n", "? "}

// Chunk is a contiguous sub-range of a document's content.
type Chunk struct {
	Content  string
	StartPos int
	EndPos   int
}

// Chunker splits text deterministically with the configured size and overlap.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Non-positive size falls back to the default; the
// overlap is clamped below the size so the window always advances.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks content into paragraph-aware, sentence-boundary-aware pieces.
// Empty or whitespace-only content yields no chunks.
func (c *Chunker) Split(content string) []Chunk {
	runes := []rune(content)
	paragraphs := paragraphSpans(runes)

	var chunks []Chunk
	var current strings.Builder
	// currentLen counts runes; Builder.Len is bytes and would over-count
	// multibyte content against the rune-based size.
	currentLen := 0
	currentStart, currentEnd := 0, 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, Chunk{
				Content:  current.String(),
				StartPos: currentStart,
				EndPos:   currentEnd,
			})
			current.Reset()
			currentLen = 0
		}
	}

	for _, span := range paragraphs {
		para, paraStart := trimSpan(runes, span.start, span.end)
		if len(para) == 0 {
			continue
		}

		if currentLen+len(para)+2 <= c.size {
			if currentLen > 0 {
				current.WriteString("\n\n")
				currentLen += 2
			} else {
				currentStart = paraStart
			}
			current.WriteString(string(para))
			currentLen += len(para)
			currentEnd = paraStart + len(para)
			continue
		}

		flush()

		if len(para) <= c.size {
			current.WriteString(string(para))
			currentLen = len(para)
			currentStart = paraStart
			currentEnd = paraStart + len(para)
			continue
		}

		chunks = append(chunks, c.splitParagraph(para, paraStart)...)
	}
	flush()

	if len(chunks) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed != "" {
			chunks = append(chunks, Chunk{
				Content:  trimmed,
				StartPos: 0,
				EndPos:   len([]rune(trimmed)),
			})
		}
	}

	return chunks
}

// splitParagraph cuts an oversized paragraph into windows of at most size
// runes, backing each cut off to the last sentence boundary in range and
// overlapping consecutive windows.
func (c *Chunker) splitParagraph(para []rune, base int) []Chunk {
	var chunks []Chunk

	innerStart := 0
	for innerStart < len(para) {
		innerEnd := innerStart + c.size
		if innerEnd > len(para) {
			innerEnd = len(para)
		}

		if innerEnd < len(para) {
			innerEnd = findSentenceBoundary(para, innerStart, innerEnd)
		}

		text := string(para[innerStart:innerEnd])
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Content:  text,
				StartPos: base + innerStart,
				EndPos:   base + innerEnd,
			})
		}

		next := innerEnd - c.overlap
		if next <= innerStart {
			next = innerEnd
		}
		innerStart = next
	}

	return chunks
}

// findSentenceBoundary searches backwards from end for a sentence terminator
// followed by whitespace and returns the position just after it, or end if no
// boundary exists strictly after start.
func findSentenceBoundary(text []rune, start, end int) int {
	s := string(text[start:end])
	for _, sep := range sentenceBoundaries {
		if idx := strings.LastIndex(s, sep); idx > 0 {
			// idx is a byte offset into s; convert back to runes.
			return start + len([]rune(s[:idx])) + len(sep)
		}
	}
	return end
}

type span struct{ start, end int }

// paragraphSpans returns the half-open rune spans of text separated by blank
// lines. A document with no separators is a single span.
func paragraphSpans(runes []rune) []span {
	content := string(runes)
	var spans []span
	lastEnd := 0

	for _, loc := range paragraphPattern.FindAllStringIndex(content, -1) {
		start := len([]rune(content[:loc[0]]))
		end := len([]rune(content[:loc[1]]))
		if start > lastEnd {
			spans = append(spans, span{lastEnd, start})
		}
		lastEnd = end
	}
	if lastEnd < len(runes) {
		spans = append(spans, span{lastEnd, len(runes)})
	}
	if len(spans) == 0 && strings.TrimSpace(content) != "" {
		spans = append(spans, span{0, len(runes)})
	}
	return spans
}

// trimSpan strips surrounding whitespace from a span, returning the trimmed
// runes and the adjusted start offset.
func trimSpan(runes []rune, start, end int) ([]rune, int) {
	for start < end && isSpace(runes[start]) {
		start++
	}
	for end > start && isSpace(runes[end-1]) {
		end--
	}
	return runes[start:end], start
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
