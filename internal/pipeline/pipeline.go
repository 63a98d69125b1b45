// Package pipeline accepts uploads and drives each document through extraction, chunking,
// embedding and storage on a background work queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/blob"
	"github.com/hyperjump/docsight/internal/chunker"
	"github.com/hyperjump/docsight/internal/embedding"
	"github.com/hyperjump/docsight/internal/extract"
	"github.com/hyperjump/docsight/internal/fileid"
	"github.com/hyperjump/docsight/internal/keyword"
	"github.com/hyperjump/docsight/internal/llm"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/storage"
	"github.com/hyperjump/docsight/internal/tagger"
)

// Extractor turns raw files into text.
type Extractor interface {
	Extract(ctx context.Context, f extract.File) (*extract.Result, error)
	Supports(mimeType string) bool
}

// Deps are the collaborators of a Pipeline. Completer and Keyword are optional.
type Deps struct {
	Store     storage.Storage
	Blobs     blob.Store
	Extractor Extractor
	Splitter  *chunker.Splitter
	Embedder  embedding.Embedder
	// Completer produces document summaries. When nil, summaries are skipped.
	Completer llm.Completer
	// Keyword receives persisted chunks. When nil, keyword indexing is skipped.
	Keyword keyword.Index
}

// Config holds upload limits and concurrency.
type Config struct {
	MaxFileSize      int64
	Workers          int
	QueueSize        int
	EmbedConcurrency int
	// EmbedBatchSize is the number of chunks sent to the embedder per call.
	EmbedBatchSize   int
}

// DefaultEmbedBatchSize is used when Config.EmbedBatchSize is not set.
const DefaultEmbedBatchSize = 64

// UploadRequest is a file submitted on behalf of a session.
type UploadRequest struct {
	SessionID string
	FileName  string
	MimeType  string
	Data      []byte
}

// Pipeline ingests documents.
type Pipeline struct {
	store     storage.Storage
	blobs     blob.Store
	extractor Extractor
	splitter  *chunker.Splitter
	embedder  embedding.Embedder
	completer llm.Completer
	keyword   keyword.Index
	tagger    *tagger.Tagger
	queue     *Queue

	maxFileSize      int64
	embedConcurrency int
	embedBatchSize   int
	logger           *zap.Logger
	onProcessed      func(docID string, err error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for the pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// OnProcessed registers fn to run when a document's background processing ends. err is nil
// when the document reached processed.
func OnProcessed(fn func(docID string, err error)) Option {
	return func(p *Pipeline) {
		p.onProcessed = fn
	}
}

// New creates a Pipeline and starts its workers.
func New(deps Deps, cfg Config, opts ...Option) (*Pipeline, error) {
	if deps.Store == nil || deps.Blobs == nil || deps.Extractor == nil || deps.Embedder == nil {
		return nil, errors.New("pipeline: store, blobs, extractor and embedder are required")
	}
	p := &Pipeline{
		store:            deps.Store,
		blobs:            deps.Blobs,
		extractor:        deps.Extractor,
		splitter:         deps.Splitter,
		embedder:         deps.Embedder,
		completer:        deps.Completer,
		keyword:          deps.Keyword,
		maxFileSize:      cfg.MaxFileSize,
		embedConcurrency: cfg.EmbedConcurrency,
		embedBatchSize:   cfg.EmbedBatchSize,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.splitter == nil {
		s, err := chunker.NewSplitter(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
		if err != nil {
			return nil, err
		}
		p.splitter = s
	}
	if p.embedConcurrency <= 0 {
		p.embedConcurrency = 1
	}
	if p.embedBatchSize <= 0 {
		p.embedBatchSize = DefaultEmbedBatchSize
	}
	p.tagger = tagger.New(p.store, tagger.WithLogger(p.logger))
	p.queue = NewQueue(cfg.Workers, cfg.QueueSize,
		WithQueueLogger(p.logger),
		OnTaskDone(p.taskDone),
	)
	return p, nil
}

// Close waits for in-flight documents to finish and stops the workers.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Supports reports whether files of mimeType can be extracted.
func (p *Pipeline) Supports(mimeType string) bool {
	return p.extractor.Supports(mimeType)
}

func (p *Pipeline) validate(req *UploadRequest) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return models.NewValidationError("session_id", "session id is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return models.NewValidationError("file_name", "file name is required")
	}
	if len(req.Data) == 0 {
		return models.NewValidationError("file", fmt.Sprintf("%s is empty", req.FileName))
	}
	if p.maxFileSize > 0 && int64(len(req.Data)) > p.maxFileSize {
		return models.NewValidationError("file",
			fmt.Sprintf("%s is %d bytes; the limit is %d", req.FileName, len(req.Data), p.maxFileSize))
	}
	return nil
}

// Upload validates the file, stores it, records the document as uploaded and queues it for
// processing. It returns as soon as the document row exists. If the queue cannot take the
// document, it is marked error and ErrQueueFull or ErrQueueClosed is returned with it.
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (*models.Document, error) {
	if err := p.validate(&req); err != nil {
		return nil, err
	}
	user, err := p.store.GetOrCreateUser(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	mimeType := extract.DetectMimeType(req.FileName, req.Data, req.MimeType)
	doc := &models.Document{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		FileName:    req.FileName,
		FileSize:    int64(len(req.Data)),
		MimeType:    mimeType,
		ContentType: categoryOf(mimeType),
		Status:      models.StatusUploaded,
	}
	doc.FilePath = fileid.ObjectKey(user.ID, doc.ID, req.FileName)

	if err := p.blobs.Put(ctx, doc.FilePath, req.Data, mimeType); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if doc.FileURL, err = p.blobs.URL(ctx, doc.FilePath); err != nil {
		p.logger.Warn("Failed to compute public URL", zap.String("key", doc.FilePath), zap.Error(err))
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		if delErr := p.blobs.Delete(ctx, doc.FilePath); delErr != nil {
			p.logger.Warn("Failed to remove orphaned blob", zap.String("key", doc.FilePath), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	docID := doc.ID
	if err := p.queue.Submit(Task{ID: docID, Run: func(ctx context.Context) error {
		return p.process(ctx, docID)
	}}); err != nil {
		p.markError(ctx, docID, err)
		doc.Status = models.StatusError
		doc.ProcessingError = err.Error()
		return doc, err
	}
	p.logger.Debug("Document queued", zap.String("doc_id", docID), zap.String("file", req.FileName))
	return doc, nil
}

// Delete removes a document with its blob, keyword entries, chunks and tags.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.blobs.Delete(ctx, doc.FilePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if p.keyword != nil {
		if err := p.keyword.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete keyword entries: %w", err)
		}
	}
	if err := p.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	p.logger.Debug("Document deleted", zap.String("doc_id", docID))
	return nil
}

func (p *Pipeline) taskDone(t Task, err error) {
	var pe *PanicError
	if errors.As(err, &pe) {
		p.markError(context.Background(), t.ID, err)
	}
	if p.onProcessed != nil {
		p.onProcessed(t.ID, err)
	}
}

func categoryOf(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.CategoryImage
	case strings.HasPrefix(mimeType, "text/"):
		return models.CategoryText
	}
	return models.CategoryDocument
}
