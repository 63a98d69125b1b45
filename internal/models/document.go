// Package models defines core data structures for documents, chunks, tags, queries, and conversations.
package models

import "time"

// Content categories derived by the extractor.
const (
	CategoryImage    = "image"
	CategoryText     = "text"
	CategoryDocument = "document"
)

// User is the owner of uploaded documents, keyed by an opaque session id.
type User struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Document represents an uploaded file and its processing state.
type Document struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	FileName string `json:"file_name" db:"file_name"`
	// FilePath is the blob store key; FileURL its public reference.
	FilePath string `json:"file_path" db:"file_path"`
	FileURL  string `json:"file_url" db:"file_url"`
	FileSize int64  `json:"file_size" db:"file_size"`
	MimeType string `json:"mime_type" db:"mime_type"`
	// ContentType is the extractor category: image, text or document.
	ContentType        string                 `json:"content_type" db:"content_type"`
	Status             Status                 `json:"status" db:"status"`
	ExtractedText      string                 `json:"extracted_text,omitempty" db:"extracted_text"`
	Title              string                 `json:"title,omitempty" db:"title"`
	Description        string                 `json:"description,omitempty" db:"description"`
	WordCount          int                    `json:"word_count" db:"word_count"`
	CharCount          int                    `json:"char_count" db:"char_count"`
	PageCount          int                    `json:"page_count" db:"page_count"`
	Confidence         float64                `json:"confidence" db:"confidence"`
	ProcessingMetadata map[string]interface{} `json:"processing_metadata,omitempty" db:"processing_metadata"`
	ProcessingError    string                 `json:"processing_error,omitempty" db:"processing_error"`
	// AutoTags are tag names ordered by confidence desc, filtered to confidence >= AutoTagMinConfidence.
	AutoTags    []string   `json:"auto_tags" db:"auto_tags"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// DocumentChunk is a contiguous slice of a document's text with its embedding.
type DocumentChunk struct {
	ID         string                 `json:"id" db:"id"`
	DocumentID string                 `json:"document_id" db:"document_id"`
	ChunkIndex int                    `json:"chunk_index" db:"chunk_index"`
	Content    string                 `json:"content" db:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	WordCount  int                    `json:"word_count" db:"word_count"`
	CharCount  int                    `json:"char_count" db:"char_count"`
	Embedding  []float32              `json:"-" db:"embedding"`
	EmbeddedAt *time.Time             `json:"embedded_at,omitempty" db:"embedded_at"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// ContentUpdate carries the extraction and summary fields written back to a document.
type ContentUpdate struct {
	ExtractedText      string
	ContentType        string
	Title              string
	Description        string
	WordCount          int
	CharCount          int
	PageCount          int
	Confidence         float64
	ProcessingMetadata map[string]interface{}
}
