// Package chunker splits normalized text into overlapping chunks, preferring paragraph, then
// sentence, then word, then character boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/docsight/internal/models"
)

// Default sizes, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order. The empty separator splits into single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Chunk is one output segment. Start and End are character offsets into the split text;
// Overlap is the number of leading characters shared with the previous chunk.
type Chunk struct {
	Text     string
	Start    int
	End      int
	Overlap  int
	Metadata map[string]interface{}
}

// Splitter is a recursive character splitter. It is safe for concurrent use.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter with the given size and overlap (in characters).
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, models.NewValidationError("chunk_size", "chunk size must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, models.NewValidationError("chunk_overlap",
			fmt.Sprintf("chunk overlap must be in [0, %d)", chunkSize))
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap, separators: DefaultSeparators}, nil
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the configured overlap.
func (s *Splitter) ChunkOverlap() int { return s.chunkOverlap }

// span is a byte range [start, end) of the input with its length in characters.
type span struct {
	start, end int
	runes      int
}

// Split divides text into ordered chunks. Every chunk is an exact substring of text. Each
// chunk's metadata is a copy of metadata plus chunk_start, chunk_end and overlap_chars.
// Empty or whitespace-only text yields no chunks.
func (s *Splitter) Split(text string, metadata map[string]interface{}) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := s.split(text, 0, len(text), s.separators)

	chunks := make([]Chunk, 0, len(spans))
	byteToRune := runeOffsets(text)
	prevEnd := 0
	for i, sp := range spans {
		start, end := byteToRune(sp.start), byteToRune(sp.end)
		overlap := 0
		if i > 0 && prevEnd > start {
			overlap = prevEnd - start
		}
		prevEnd = end
		md := models.MergeMetadata(metadata, map[string]interface{}{
			"chunk_start":   start,
			"chunk_end":     end,
			"overlap_chars": overlap,
		})
		chunks = append(chunks, Chunk{
			Text:     text[sp.start:sp.end],
			Start:    start,
			End:      end,
			Overlap:  overlap,
			Metadata: md,
		})
	}
	return chunks
}

// split returns merged chunk spans covering text[start:end].
func (s *Splitter) split(text string, start, end int, separators []string) []span {
	sep, rest := pickSeparator(text[start:end], separators)
	pieces := splitKeep(text, start, end, sep)

	var out, good []span
	for _, p := range pieces {
		if p.runes <= s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
			continue
		}
		out = append(out, s.split(text, p.start, p.end, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge greedily packs contiguous spans into windows of at most chunkSize characters, carrying
// up to chunkOverlap trailing characters into the next window.
func (s *Splitter) merge(spans []span) []span {
	var (
		out     []span
		current []span
		total   int
	)
	for _, sp := range spans {
		if total+sp.runes > s.chunkSize && len(current) > 0 {
			out = append(out, join(current))
			for total > s.chunkOverlap || (total+sp.runes > s.chunkSize && total > 0) {
				total -= current[0].runes
				current = current[1:]
			}
		}
		current = append(current, sp)
		total += sp.runes
	}
	if len(current) > 0 {
		out = append(out, join(current))
	}
	return out
}

func join(spans []span) span {
	j := span{start: spans[0].start, end: spans[len(spans)-1].end}
	for _, sp := range spans {
		j.runes += sp.runes
	}
	return j
}

func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// splitKeep cuts text[start:end] after every occurrence of sep, keeping the separator on the
// piece it terminates. The empty separator cuts after every character.
func splitKeep(text string, start, end int, sep string) []span {
	var out []span
	if sep == "" {
		for i := start; i < end; {
			_, size := utf8.DecodeRuneInString(text[i:end])
			out = append(out, span{start: i, end: i + size, runes: 1})
			i += size
		}
		return out
	}
	pos := start
	for pos < end {
		idx := strings.Index(text[pos:end], sep)
		next := end
		if idx >= 0 {
			next = pos + idx + len(sep)
		}
		out = append(out, span{start: pos, end: next, runes: utf8.RuneCountInString(text[pos:next])})
		pos = next
	}
	return out
}

// runeOffsets returns a function converting byte offsets of text into character offsets.
// It counts from the previous query in either direction, so queries that move forward with
// small steps back (overlapping chunks) stay linear in the length of text.
func runeOffsets(text string) func(int) int {
	lastByte, lastRune := 0, 0
	return func(b int) int {
		if b >= lastByte {
			lastRune += utf8.RuneCountInString(text[lastByte:b])
		} else {
			lastRune -= utf8.RuneCountInString(text[b:lastByte])
		}
		lastByte = b
		return lastRune
	}
}
