package textproc

import (
	"fmt"
	"strings"
)

// Chunker splits text into overlapping windows of at most Size runes, where
// consecutive windows share Overlap runes of context. Window ends prefer a
// soft boundary (paragraph break, sentence end, word break) near the target
// size; a hard cut is the fallback.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker validates the parameters and returns a Chunker.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d", overlap, size)
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// boundarySearchWindow is the fraction of the chunk size scanned backwards
// from the hard cut when looking for a soft boundary.
const boundarySearchWindow = 0.2

// Split chunks text into overlapping passages. Whitespace-only chunks are
// discarded; an empty input yields a nil slice.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.adjustBoundary(runes, start, end)
		}

		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			// Overlap would stall the window; force progress.
			next = start + 1
		}
		start = next
	}

	return chunks
}

// adjustBoundary moves the cut point backwards to the nearest soft boundary
// within the search window: paragraph break first, then sentence end, then
// word break. Returns the original end when no boundary is found.
func (c *Chunker) adjustBoundary(runes []rune, start, end int) int {
	window := int(float64(c.Size) * boundarySearchWindow)
	limit := end - window
	if limit <= start {
		limit = start + 1
	}

	segment := string(runes[limit:end])

	if i := strings.LastIndex(segment, "\n\n"); i >= 0 {
		return limit + len([]rune(segment[:i+2]))
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(segment, sep); i >= 0 {
			return limit + len([]rune(segment[:i+len(sep)]))
		}
	}
	if i := strings.LastIndex(segment, " "); i >= 0 {
		return limit + len([]rune(segment[:i+1]))
	}
	return end
}
