// Package keyword provides chunk-level keyword (BM25) indexing and search.
package keyword

import (
	"context"

	"github.com/hyperjump/docsight/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the file name.
	// Values > 1 make file name matches rank higher. Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// Index defines keyword index operations over document chunks. Every chunk is scoped to the
// user who owns its document.
type Index interface {
	// IndexChunks adds or replaces the chunks of doc.
	IndexChunks(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error
	Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]*Result, error)
	// DeleteDocument removes every chunk of the document.
	DeleteDocument(ctx context.Context, docID string) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
}
