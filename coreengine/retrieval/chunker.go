package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Chunker defaults, in characters.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 0
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits text on paragraph, line and word boundaries so each piece
// fits ChunkSize characters.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewChunker creates a Chunker. Non-positive size falls back to the default
// and overlap is clamped to [0, size).
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{ChunkSize: size, ChunkOverlap: overlap, Separators: defaultSeparators}
}

// Split returns the non-empty chunks of text.
func (c *Chunker) Split(text string) []string {
	return c.split(text, c.Separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, pending []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if length(p) <= c.ChunkSize {
			pending = append(pending, p)
			continue
		}
		if len(pending) > 0 {
			out = append(out, c.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(pending) > 0 {
		out = append(out, c.merge(pending, sep)...)
	}
	return out
}

// merge packs pieces into chunks, carrying up to ChunkOverlap characters of
// trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string, sep string) []string {
	sepLen := length(sep)
	var out, window []string
	total := 0

	for _, p := range pieces {
		n := length(p)
		joined := n
		if len(window) > 0 {
			joined += sepLen
		}
		if total+joined > c.ChunkSize && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
				out = append(out, chunk)
			}
			for len(window) > 0 && (total > c.ChunkOverlap || (total+n+sepLen > c.ChunkSize && total > 0)) {
				total -= length(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
