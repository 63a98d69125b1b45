package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/extract"
	"github.com/hyperjump/docsight/internal/fileid"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/pipeline"
	"github.com/hyperjump/docsight/pkg/utils"
)

// Uploader is the part of the pipeline the inbox drives.
type Uploader interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (*models.Document, error)
	Delete(ctx context.Context, docID string) error
	Supports(mimeType string) bool
}

type ingested struct {
	docID   string
	size    int64
	modTime time.Time
}

// Inbox uploads files found by a Watcher on behalf of one session. A file is uploaded
// again only when its size or modification time changes; the earlier document is replaced.
type Inbox struct {
	uploader  Uploader
	sessionID string
	logger    *zap.Logger

	mu   sync.Mutex
	seen map[string]ingested // fileid.SourceID -> last upload
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithInboxLogger sets the inbox logger.
func WithInboxLogger(l *zap.Logger) InboxOption {
	return func(in *Inbox) { in.logger = l }
}

// NewInbox creates an inbox that uploads as sessionID.
func NewInbox(u Uploader, sessionID string, opts ...InboxOption) *Inbox {
	in := &Inbox{uploader: u, sessionID: sessionID, seen: make(map[string]ingested)}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = utils.LoggerOrNop(in.logger)
	return in
}

// Ingest uploads the file at path. It returns nil without uploading when the file is
// unchanged since its last upload or its type cannot be extracted.
func (in *Inbox) Ingest(ctx context.Context, path string) (*models.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	src := fileid.SourceID(abs)

	in.mu.Lock()
	prev, known := in.seen[src]
	in.mu.Unlock()
	if known && prev.size == info.Size() && prev.modTime.Equal(info.ModTime()) {
		in.logger.Debug("Inbox file unchanged", zap.String("path", abs))
		return nil, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	name := filepath.Base(abs)
	mimeType := extract.DetectMimeType(name, data, "")
	if !in.uploader.Supports(mimeType) {
		in.logger.Debug("Inbox skipping unsupported file", zap.String("path", abs), zap.String("mime_type", mimeType))
		return nil, nil
	}

	doc, err := in.uploader.Upload(ctx, pipeline.UploadRequest{
		SessionID: in.sessionID,
		FileName:  name,
		MimeType:  mimeType,
		Data:      data,
	})
	if doc == nil {
		return nil, err
	}

	in.mu.Lock()
	in.seen[src] = ingested{docID: doc.ID, size: info.Size(), modTime: info.ModTime()}
	in.mu.Unlock()
	if known {
		if delErr := in.uploader.Delete(ctx, prev.docID); delErr != nil {
			in.logger.Warn("Failed to remove replaced document", zap.String("doc_id", prev.docID), zap.Error(delErr))
		}
	}
	in.logger.Info("Inbox file uploaded", zap.String("path", abs), zap.String("doc_id", doc.ID))
	return doc, err
}

// Remove deletes the document uploaded from path, if any.
func (in *Inbox) Remove(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	src := fileid.SourceID(abs)
	in.mu.Lock()
	prev, ok := in.seen[src]
	delete(in.seen, src)
	in.mu.Unlock()
	if !ok {
		return nil
	}
	return in.uploader.Delete(ctx, prev.docID)
}

// OnFile adapts Ingest to a Watcher callback.
func (in *Inbox) OnFile(path string) {
	if _, err := in.Ingest(context.Background(), path); err != nil {
		in.logger.Warn("Inbox upload failed", zap.String("path", path), zap.Error(err))
	}
}

// OnRemove adapts Remove to a Watcher callback.
func (in *Inbox) OnRemove(path string) {
	if err := in.Remove(context.Background(), path); err != nil {
		in.logger.Warn("Inbox removal failed", zap.String("path", path), zap.Error(err))
	}
}
