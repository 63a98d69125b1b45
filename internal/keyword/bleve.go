package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/docsight/internal/models"
)

const (
	fieldUserID     = "user_id"
	fieldDocumentID = "document_id"
	fieldTitle      = "title"
	fieldContent    = "content"

	deletePageSize = 500
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase and tokenize, no stemming, so "bayes" matches "Bayes"
	// without matching "bay".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	docMapping.AddFieldMappingsAt(fieldContent, text)
	docMapping.AddFieldMappingsAt(fieldTitle, text)

	exact := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldUserID, exact)
	docMapping.AddFieldMappingsAt(fieldDocumentID, exact)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an in-memory
// index. If you change the index mapping in code, remove the index directory so chunks are
// indexed again.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(chunkMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// normalizeTitle replaces underscores with spaces so "q3_sales_report.pdf" is searchable as
// "sales report"; the standard analyzer does not split on underscore.
func normalizeTitle(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}

// IndexChunks indexes chunks in one batch, keyed by chunk ID.
func (b *BleveIndex) IndexChunks(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	title := normalizeTitle(doc.FileName)
	for _, ch := range chunks {
		if err := batch.Index(ch.ID, map[string]interface{}{
			fieldUserID:     doc.UserID,
			fieldDocumentID: doc.ID,
			fieldTitle:      title,
			fieldContent:    ch.Content,
		}); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", ch.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Search runs a match query over chunk content and file name, restricted to userID. Results
// are ordered by score desc.
func (b *BleveIndex) Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	titleBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	if limit <= 0 {
		limit = 10
	}

	text := bleve.NewDisjunctionQuery(
		b.textQuery(query, fieldContent, 1, fuzzy, fuzziness),
		b.textQuery(query, fieldTitle, titleBoost, fuzzy, fuzziness),
	)
	owner := bleve.NewTermQuery(userID)
	owner.SetField(fieldUserID)

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(owner, text))
	req.Size = limit
	req.Fields = []string{fieldDocumentID}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(res.Hits))
	for i, hit := range res.Hits {
		docID, _ := hit.Fields[fieldDocumentID].(string)
		out[i] = &Result{ChunkID: hit.ID, DocumentID: docID, Score: hit.Score}
	}
	return out, nil
}

// textQuery matches query against field. With fuzzy matching each term becomes a fuzzy query
// and any term may match.
func (b *BleveIndex) textQuery(query, field string, boost float64, fuzzy bool, fuzziness int) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(strings.Trim(term, ".,;:!?\"'()"))
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DeleteDocument removes every chunk indexed for docID.
func (b *BleveIndex) DeleteDocument(ctx context.Context, docID string) error {
	for {
		q := bleve.NewTermQuery(docID)
		q.SetField(fieldDocumentID)
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find chunks of %s: %w", docID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", docID, err)
		}
	}
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
