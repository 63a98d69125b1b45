package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docsight/internal/chunker"
	"github.com/hyperjump/docsight/internal/extract"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/tagger"
	"github.com/hyperjump/docsight/pkg/utils"
)

// ErrNoText is recorded when extraction yields no text to index.
var ErrNoText = errors.New("no text could be extracted")

// process drives one document from uploaded to processed. Any failure is recorded on the
// document as status error and returned.
func (p *Pipeline) process(ctx context.Context, docID string) error {
	start := time.Now()
	if err := p.run(ctx, docID, start); err != nil {
		p.markError(ctx, docID, err)
		return err
	}
	p.logger.Debug("Document processed", zap.String("doc_id", docID), zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, docID string, start time.Time) error {
	if err := p.transition(ctx, docID, models.StatusProcessing); err != nil {
		return err
	}
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	data, err := p.blobs.Get(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	res, err := p.extractor.Extract(ctx, extract.File{
		Name:     doc.FileName,
		MimeType: doc.MimeType,
		Data:     data,
		URL:      doc.FileURL,
	})
	if err != nil {
		return err
	}
	text := chunker.Normalize(res.Text)
	if text == "" {
		return ErrNoText
	}
	update := &models.ContentUpdate{
		ExtractedText:      text,
		ContentType:        res.Category,
		Title:              res.Title,
		Description:        res.Description,
		WordCount:          utils.WordCount(text),
		CharCount:          utils.CharCount(text),
		PageCount:          res.PageCount,
		Confidence:         res.Confidence,
		ProcessingMetadata: res.Metadata,
	}
	if err := p.store.UpdateDocumentContent(ctx, docID, update); err != nil {
		return fmt.Errorf("failed to save extracted text: %w", err)
	}
	if res.Vision != nil {
		if _, err := p.tagger.Merge(ctx, docID, tagger.DeriveTags(res.Vision)); err != nil {
			return fmt.Errorf("failed to tag document: %w", err)
		}
	}

	if err := p.transition(ctx, docID, models.StatusChunking); err != nil {
		return err
	}
	pieces := p.splitter.Split(text, map[string]interface{}{
		"file_name":    doc.FileName,
		"content_type": res.Category,
		"mime_type":    res.MimeType,
	})
	if len(pieces) == 0 {
		return ErrNoText
	}
	if res.Category == models.CategoryDocument && p.completer != nil {
		p.summarize(ctx, docID, text, update)
	}

	if err := p.transition(ctx, docID, models.StatusEmbedding); err != nil {
		return err
	}
	chunks, err := p.embedAndStore(ctx, docID, pieces)
	if len(chunks) > 0 && p.keyword != nil {
		doc.ContentType = res.Category
		if kwErr := p.keyword.IndexChunks(ctx, doc, chunks); kwErr != nil {
			p.logger.Warn("Keyword indexing failed", zap.String("doc_id", docID), zap.Error(kwErr))
		}
	}
	if err != nil {
		return err
	}

	update.ProcessingMetadata = models.MergeMetadata(update.ProcessingMetadata, map[string]interface{}{
		"chunk_count": len(chunks),
		"processing_stats": map[string]interface{}{
			"chunk_size":    p.splitter.ChunkSize(),
			"chunk_overlap": p.splitter.ChunkOverlap(),
			"duration_ms":   time.Since(start).Milliseconds(),
		},
	})
	if err := p.store.UpdateDocumentContent(ctx, docID, update); err != nil {
		return fmt.Errorf("failed to save document summary: %w", err)
	}
	return p.transition(ctx, docID, models.StatusProcessed)
}

// embedAndStore embeds pieces in batches with bounded concurrency and persists them in index
// order. When a batch fails, the chunks before the first failed index are still persisted and
// returned with the error.
func (p *Pipeline) embedAndStore(ctx context.Context, docID string, pieces []chunker.Chunk) ([]*models.DocumentChunk, error) {
	vectors := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.embedConcurrency)
	for lo := 0; lo < len(pieces); lo += p.embedBatchSize {
		lo, hi := lo, min(lo+p.embedBatchSize, len(pieces))
		g.Go(func() error {
			texts := make([]string, 0, hi-lo)
			for _, piece := range pieces[lo:hi] {
				texts = append(texts, piece.Text)
			}
			vecs, err := p.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", lo, hi-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
			}
			copy(vectors[lo:hi], vecs)
			return nil
		})
	}
	embedErr := g.Wait()

	stored := make([]*models.DocumentChunk, 0, len(pieces))
	for i, piece := range pieces {
		if vectors[i] == nil {
			break
		}
		embeddedAt := time.Now().UTC()
		chunk := &models.DocumentChunk{
			DocumentID: docID,
			ChunkIndex: i,
			Content:    piece.Text,
			Metadata:   piece.Metadata,
			WordCount:  utils.WordCount(piece.Text),
			CharCount:  utils.CharCount(piece.Text),
			Embedding:  vectors[i],
			EmbeddedAt: &embeddedAt,
		}
		if err := p.store.CreateChunk(ctx, chunk); err != nil {
			return stored, fmt.Errorf("failed to store chunk %d: %w", i, err)
		}
		stored = append(stored, chunk)
	}
	return stored, embedErr
}

func (p *Pipeline) transition(ctx context.Context, docID string, to models.Status) error {
	if err := p.store.TransitionStatus(ctx, docID, to, ""); err != nil {
		return fmt.Errorf("failed to move document to %s: %w", to, err)
	}
	p.logger.Debug("Document status changed", zap.String("doc_id", docID), zap.String("status", string(to)))
	return nil
}

// markError records err on the document. A document already in a terminal state is left as is.
func (p *Pipeline) markError(ctx context.Context, docID string, err error) {
	p.logger.Warn("Document processing failed",
		zap.String("doc_id", docID), zap.String("status", string(models.StatusError)), zap.Error(err))
	if terr := p.store.TransitionStatus(ctx, docID, models.StatusError, err.Error()); terr != nil {
		p.logger.Warn("Failed to record processing error", zap.String("doc_id", docID), zap.Error(terr))
	}
}
