// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docsight/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Cosine similarity is computed in process
// over the user's embedded chunks.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. A single connection is used so that
// ":memory:" databases are shared and writes are serialized.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_url TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT,
		content_type TEXT,
		status TEXT NOT NULL,
		extracted_text TEXT,
		title TEXT,
		description TEXT,
		word_count INTEGER NOT NULL DEFAULT 0,
		char_count INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		processing_metadata TEXT,
		processing_error TEXT,
		auto_tags TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		word_count INTEGER NOT NULL DEFAULT 0,
		char_count INTEGER NOT NULL DEFAULT 0,
		embedding BLOB,
		embedded_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		UNIQUE (document_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON document_chunks(document_id, chunk_index);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS document_tags (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id),
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS search_queries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		query_embedding BLOB,
		search_type TEXT NOT NULL,
		similarity_threshold REAL NOT NULL,
		max_results INTEGER NOT NULL,
		content_type_filter TEXT,
		tag_filter TEXT,
		results_count INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS search_results (
		id TEXT PRIMARY KEY,
		search_query_id TEXT NOT NULL REFERENCES search_queries(id) ON DELETE CASCADE,
		chunk_id TEXT NOT NULL REFERENCES document_chunks(id) ON DELETE CASCADE,
		similarity_score REAL NOT NULL,
		rank_position INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_search_results_query ON search_results(search_query_id, rank_position);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// GetOrCreateUser inserts the user if absent and returns the stored row.
func (s *SQLiteStorage) GetOrCreateUser(ctx context.Context, sessionID string) (*models.User, error) {
	if sessionID == "" {
		return nil, models.NewValidationError("session_id", "session id is required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, session_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		uuid.New().String(), sessionID, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, created_at FROM users WHERE session_id = ?`, sessionID,
	).Scan(&u.ID, &u.SessionID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

const documentColumns = `id, user_id, file_name, file_path, file_url, file_size, mime_type, content_type,
	status, extracted_text, title, description, word_count, char_count, page_count, confidence,
	processing_metadata, processing_error, auto_tags, created_at, updated_at, processed_at`

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}
	metadataJSON, err := marshalJSON(models.SanitizeMetadata(doc.ProcessingMetadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tagsJSON, err := marshalJSON(nonNilStrings(doc.AutoTags))
	if err != nil {
		return fmt.Errorf("failed to marshal auto tags: %w", err)
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.FileName, doc.FilePath, doc.FileURL, doc.FileSize, doc.MimeType, doc.ContentType,
		string(doc.Status), doc.ExtractedText, doc.Title, doc.Description, doc.WordCount, doc.CharCount, doc.PageCount,
		doc.Confidence, metadataJSON, doc.ProcessingError, tagsJSON, doc.CreatedAt, doc.UpdatedAt, doc.ProcessedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                                               models.Document
		status                                            string
		fileURL, mimeType, contentType, text, title, desc sql.NullString
		metadataJSON, processingError, tagsJSON           sql.NullString
		processedAt                                       sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.FileName, &doc.FilePath, &fileURL, &doc.FileSize, &mimeType, &contentType,
		&status, &text, &title, &desc, &doc.WordCount, &doc.CharCount, &doc.PageCount, &doc.Confidence,
		&metadataJSON, &processingError, &tagsJSON, &doc.CreatedAt, &doc.UpdatedAt, &processedAt); err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	doc.FileURL = fileURL.String
	doc.MimeType = mimeType.String
	doc.ContentType = contentType.String
	doc.ExtractedText = text.String
	doc.Title = title.String
	doc.Description = desc.String
	doc.ProcessingError = processingError.String
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	if metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.ProcessingMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	doc.AutoTags = []string{}
	if tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &doc.AutoTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auto tags: %w", err)
		}
	}
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns a user's documents, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentContent writes extraction and summary results.
func (s *SQLiteStorage) UpdateDocumentContent(ctx context.Context, id string, u *models.ContentUpdate) error {
	metadataJSON, err := marshalJSON(models.SanitizeMetadata(u.ProcessingMetadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET extracted_text = ?, content_type = ?, title = ?, description = ?,
		 word_count = ?, char_count = ?, page_count = ?, confidence = ?, processing_metadata = ?, updated_at = ?
		 WHERE id = ?`,
		u.ExtractedText, u.ContentType, u.Title, u.Description, u.WordCount, u.CharCount, u.PageCount,
		u.Confidence, metadataJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return expectAffected(result, "document", id)
}

// TransitionStatus applies a guarded status change.
func (s *SQLiteStorage) TransitionStatus(ctx context.Context, id string, to models.Status, processingError string) error {
	preds := models.Predecessors(to)
	if len(preds) == 0 {
		return &models.TransitionError{DocumentID: id, To: to}
	}
	now := time.Now().UTC()
	var processedAt interface{}
	if to == models.StatusProcessed {
		processedAt = now
	}
	var errMsg interface{}
	if to == models.StatusError {
		errMsg = processingError
	}
	args := []interface{}{string(to), now, processedAt, errMsg, id}
	for _, p := range preds {
		args = append(args, string(p))
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ?,
		 processed_at = COALESCE(?, processed_at),
		 processing_error = COALESCE(?, processing_error)
		 WHERE id = ? AND status IN (`+placeholders(len(preds))+`)`,
		args...,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return &models.TransitionError{DocumentID: id, From: models.Status(current), To: to}
}

// SetAutoTags replaces a document's auto_tags list.
func (s *SQLiteStorage) SetAutoTags(ctx context.Context, id string, tags []string) error {
	tagsJSON, err := marshalJSON(nonNilStrings(tags))
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET auto_tags = ?, updated_at = ? WHERE id = ?`, tagsJSON, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, "document", id)
}

// DeleteDocument removes a document and everything it owns in one transaction.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM search_results WHERE chunk_id IN (SELECT id FROM document_chunks WHERE document_id = ?)`,
		`DELETE FROM document_chunks WHERE document_id = ?`,
		`DELETE FROM document_tags WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountDocuments returns the number of documents, optionally restricted to a user.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var count int64
	if userID == "" {
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
		return count, err
	}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func expectAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return nil
}
