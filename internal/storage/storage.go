// Package storage defines the persistence interface for users, documents, chunks, tags,
// search provenance, and conversations.
package storage

import (
	"context"

	"github.com/hyperjump/docsight/internal/models"
)

// Storage defines the transactional store operations used by the pipeline, search, and chat.
type Storage interface {
	// User operations. GetOrCreateUser is atomic: concurrent callers with the same session id
	// observe a single row.
	GetOrCreateUser(ctx context.Context, sessionID string) (*models.User, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, error)
	UpdateDocumentContent(ctx context.Context, id string, update *models.ContentUpdate) error
	// TransitionStatus moves a document to status `to` only if its current status allows it.
	// Entering processed sets processed_at; entering error records processingError.
	TransitionStatus(ctx context.Context, id string, to models.Status, processingError string) error
	SetAutoTags(ctx context.Context, id string, tags []string) error
	// DeleteDocument removes the document with its chunks, tag links, and result rows.
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	CreateChunk(ctx context.Context, chunk *models.DocumentChunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)

	// Tag operations
	GetOrCreateTag(ctx context.Context, name, category string) (*models.Tag, error)
	// UpsertDocumentTag keeps the max confidence; source follows the higher-confidence reading.
	UpsertDocumentTag(ctx context.Context, dt *models.DocumentTag) (*models.DocumentTag, error)
	ListDocumentTags(ctx context.Context, docID string) ([]*models.DocumentTag, error)

	// Similarity lookups. Both order by ascending cosine distance and return only chunks with
	// similarity strictly greater than the threshold.
	SearchChunksFiltered(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error)
	SearchChunksBasic(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error)
	GetChunkHits(ctx context.Context, userID string, chunkIDs []string) (map[string]*models.ChunkHit, error)

	// Search provenance
	CreateSearchQuery(ctx context.Context, q *models.SearchQuery) error
	UpdateSearchQueryStats(ctx context.Context, id string, resultsCount int, responseTimeMs int64) error
	CreateSearchResults(ctx context.Context, results []*models.SearchResult) error
	GetSearchQuery(ctx context.Context, id string) (*models.SearchQuery, error)
	ListSearchResults(ctx context.Context, queryID string) ([]*models.SearchResult, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// Stats
	CountDocuments(ctx context.Context, userID string) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error

	Close() error
}
