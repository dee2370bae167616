package knowledge

import (
	"strings"
	"unicode"

	"github.com/calder-labs/engram/internal/config"
)

// Chunk is one bounded slice of source text. Position is the rune offset of
// the chunk within the original text, kept for traceability.
type Chunk struct {
	Content  string
	Position int
}

// SplitText splits text into overlapping chunks of roughly cfg.Size runes.
// Boundaries fall on whitespace where one exists in the tail of the window,
// and the split works on runes so a multi-byte character is never cut in
// half. Fragments shorter than cfg.MinSize are dropped, except that a
// non-empty source shorter than MinSize still yields a single chunk.
func SplitText(text string, cfg config.Chunking) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(text)
	overlap := int(float64(cfg.Size) * cfg.Overlap)
	if overlap >= cfg.Size {
		overlap = cfg.Size - 1
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Prefer a whitespace boundary in the second half of the window.
			if ws := lastWhitespace(runes, start+cfg.Size/2, end); ws > start {
				end = ws
			}
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(content)) >= cfg.MinSize {
			// Position points at the first stored rune, past any leading
			// whitespace the trim removed.
			chunks = append(chunks, Chunk{Content: content, Position: start + leadingSpace(runes[start:end])})
		}

		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	// A short source still produces one retrievable unit.
	if len(chunks) == 0 {
		return []Chunk{{Content: trimmed, Position: leadingSpace(runes)}}
	}
	return chunks
}

// leadingSpace returns the number of whitespace runes at the head of runes.
func leadingSpace(runes []rune) int {
	n := 0
	for n < len(runes) && unicode.IsSpace(runes[n]) {
		n++
	}
	return n
}

// lastWhitespace returns the index of the last whitespace rune in
// runes[from:to), or -1 when the window contains none.
func lastWhitespace(runes []rune, from, to int) int {
	if from < 0 {
		from = 0
	}
	for i := to - 1; i >= from; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
