package engine

import (
	"strings"
	"unicode"
)

// Chunker splits long multi-clause content into sentence-aligned chunks
// with a small overlap so context survives the boundary. Short messages
// and run-on sentences are never chunked.
type Chunker struct {
	// MaxChunkSize is the character threshold above which content is
	// considered for chunking (default 1000).
	MaxChunkSize int

	// Overlap is the approximate number of trailing characters carried
	// into the next chunk (default 50).
	Overlap int
}

// NewChunker returns a chunker with the default thresholds.
func NewChunker() *Chunker {
	return &Chunker{MaxChunkSize: 1000, Overlap: 50}
}

// Chunk splits content into overlapping pieces. Content at or under the
// size threshold, or with fewer than two sentence terminators, comes back
// as a single chunk: a giant run-on sentence has no safe split point.
func (c *Chunker) Chunk(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	maxSize := c.MaxChunkSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	overlap := c.Overlap
	if overlap <= 0 {
		overlap = 50
	}

	if len(trimmed) <= maxSize || countTerminators(trimmed) < 2 {
		return []string{trimmed}
	}

	sentences := splitSentences(trimmed)
	if len(sentences) < 2 {
		return []string{trimmed}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) > maxSize {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			current.WriteString(tailOverlap(chunk, overlap))
		}
		current.WriteString(sentence)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// tailOverlap returns the last sentence-or-so of a chunk, capped near the
// overlap budget, aligned to a word boundary.
func tailOverlap(chunk string, overlap int) string {
	if len(chunk) <= overlap {
		return chunk
	}
	tail := chunk[len(chunk)-overlap:]
	if idx := strings.IndexFunc(tail, unicode.IsSpace); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}

// splitSentences breaks text on sentence terminators (. ! ?), keeping the
// terminator and trailing whitespace attached to each sentence.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// Swallow consecutive terminators ("!?", "...") and trailing space.
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		sentences = append(sentences, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// countTerminators reports how many sentence terminators the text has,
// counting runs ("...", "!?") as one.
func countTerminators(text string) int {
	count := 0
	inRun := false
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if !inRun {
				count++
				inRun = true
			}
			continue
		}
		inRun = false
	}
	return count
}
