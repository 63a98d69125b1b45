package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/docsight/internal/models"
)

// PostgresStorage implements Storage on Postgres with pgvector. Similarity uses the
// cosine distance operator <=> so ranking happens in the database.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage runs migrations and opens a connection pool.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func vectorArg(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func scanVector(text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(text); err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return err
}

func (s *PostgresStorage) GetOrCreateUser(ctx context.Context, sessionID string) (*models.User, error) {
	if sessionID == "" {
		return nil, models.NewValidationError("session_id", "session id is required")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, session_id) VALUES ($1, $2) ON CONFLICT (session_id) DO NOTHING`,
		uuid.New().String(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, created_at FROM users WHERE session_id = $1`, sessionID,
	).Scan(&u.ID, &u.SessionID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		doc.ID, doc.UserID, doc.FileName, doc.FilePath, doc.FileURL, doc.FileSize, doc.MimeType, doc.ContentType,
		string(doc.Status), doc.ExtractedText, doc.Title, doc.Description, doc.WordCount, doc.CharCount, doc.PageCount,
		doc.Confidence, models.SanitizeMetadata(doc.ProcessingMetadata), doc.ProcessingError, nonNilStrings(doc.AutoTags),
		doc.CreatedAt, doc.UpdatedAt, doc.ProcessedAt,
	)
	return err
}

func scanPGDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc    models.Document
		status string
	)
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.FileName, &doc.FilePath, &doc.FileURL, &doc.FileSize, &doc.MimeType,
		&doc.ContentType, &status, &doc.ExtractedText, &doc.Title, &doc.Description, &doc.WordCount, &doc.CharCount,
		&doc.PageCount, &doc.Confidence, &doc.ProcessingMetadata, &doc.ProcessingError, &doc.AutoTags,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ProcessedAt); err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	if doc.AutoTags == nil {
		doc.AutoTags = []string{}
	}
	return &doc, nil
}

func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanPGDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	return doc, nil
}

func (s *PostgresStorage) ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStorage) UpdateDocumentContent(ctx context.Context, id string, u *models.ContentUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET extracted_text = $1, content_type = $2, title = $3, description = $4,
		 word_count = $5, char_count = $6, page_count = $7, confidence = $8, processing_metadata = $9, updated_at = now()
		 WHERE id = $10`,
		u.ExtractedText, u.ContentType, u.Title, u.Description, u.WordCount, u.CharCount, u.PageCount,
		u.Confidence, models.SanitizeMetadata(u.ProcessingMetadata), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) TransitionStatus(ctx context.Context, id string, to models.Status, processingError string) error {
	preds := models.Predecessors(to)
	if len(preds) == 0 {
		return &models.TransitionError{DocumentID: id, To: to}
	}
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = string(p)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now(),
		 processed_at = CASE WHEN $1 = 'processed' THEN now() ELSE processed_at END,
		 processing_error = CASE WHEN $1 = 'error' THEN $2 ELSE processing_error END
		 WHERE id = $3 AND status = ANY($4)`,
		string(to), processingError, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current); err != nil {
		return notFound(err, "document", id)
	}
	return &models.TransitionError{DocumentID: id, From: models.Status(current), To: to}
}

func (s *PostgresStorage) SetAutoTags(ctx context.Context, id string, tags []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET auto_tags = $1, updated_at = now() WHERE id = $2`, nonNilStrings(tags), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteDocument relies on ON DELETE CASCADE for chunks, tag links, and result rows.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) CreateChunk(ctx context.Context, chunk *models.DocumentChunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	chunk.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_chunks (id, document_id, chunk_index, content, metadata, word_count, char_count,
		 embedding, embedded_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content, models.SanitizeMetadata(chunk.Metadata),
		chunk.WordCount, chunk.CharCount, vectorArg(chunk.Embedding), chunk.EmbeddedAt, chunk.CreatedAt)
	return err
}

func (s *PostgresStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, metadata, word_count, char_count,
		 COALESCE(embedding::text, ''), embedded_at, created_at
		 FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*models.DocumentChunk
	for rows.Next() {
		var (
			c   models.DocumentChunk
			emb string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.Metadata, &c.WordCount,
			&c.CharCount, &emb, &c.EmbeddedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Embedding, err = scanVector(emb); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStorage) GetOrCreateTag(ctx context.Context, name, category string) (*models.Tag, error) {
	name = models.NormalizeTagName(name)
	if name == "" {
		return nil, models.NewValidationError("name", "tag name is required")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO tags (id, name, category) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		uuid.New().String(), name, category); err != nil {
		return nil, err
	}
	var t models.Tag
	err := s.pool.QueryRow(ctx, `SELECT id, name, category, created_at FROM tags WHERE name = $1`, name).
		Scan(&t.ID, &t.Name, &t.Category, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStorage) UpsertDocumentTag(ctx context.Context, dt *models.DocumentTag) (*models.DocumentTag, error) {
	if !dt.Source.Valid() {
		return nil, models.NewValidationError("source", fmt.Sprintf("unknown tag source %q", dt.Source))
	}
	var (
		out    models.DocumentTag
		source string
	)
	err := s.pool.QueryRow(ctx,
		`WITH upserted AS (
		   INSERT INTO document_tags (document_id, tag_id, confidence, source)
		   VALUES ($1, $2, $3, $4)
		   ON CONFLICT (document_id, tag_id) DO UPDATE SET
		     source = CASE WHEN EXCLUDED.confidence > document_tags.confidence
		                   THEN EXCLUDED.source ELSE document_tags.source END,
		     confidence = GREATEST(document_tags.confidence, EXCLUDED.confidence)
		   RETURNING document_id, tag_id, confidence, source, created_at
		 )
		 SELECT u.document_id, u.tag_id, t.name, u.confidence, u.source, u.created_at
		 FROM upserted u JOIN tags t ON t.id = u.tag_id`,
		dt.DocumentID, dt.TagID, dt.Confidence, string(dt.Source),
	).Scan(&out.DocumentID, &out.TagID, &out.TagName, &out.Confidence, &source, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	out.Source = models.TagSource(source)
	return &out, nil
}

func (s *PostgresStorage) ListDocumentTags(ctx context.Context, docID string) ([]*models.DocumentTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dt.document_id, dt.tag_id, t.name, dt.confidence, dt.source, dt.created_at
		 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		 WHERE dt.document_id = $1 ORDER BY dt.confidence DESC, t.name`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []*models.DocumentTag
	for rows.Next() {
		var (
			dt     models.DocumentTag
			source string
		)
		if err := rows.Scan(&dt.DocumentID, &dt.TagID, &dt.TagName, &dt.Confidence, &source, &dt.CreatedAt); err != nil {
			return nil, err
		}
		dt.Source = models.TagSource(source)
		tags = append(tags, &dt)
	}
	return tags, rows.Err()
}

func (s *PostgresStorage) SearchChunksFiltered(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	return s.searchChunks(ctx, p, true)
}

func (s *PostgresStorage) SearchChunksBasic(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	return s.searchChunks(ctx, p, false)
}

func (s *PostgresStorage) searchChunks(ctx context.Context, p *models.SimilarityParams, filtered bool) ([]*models.ChunkHit, error) {
	if len(p.Embedding) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	query := `SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, d.file_name, d.content_type,
		1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.user_id = $2 AND c.embedding IS NOT NULL AND 1 - (c.embedding <=> $1) > $3`
	args := []interface{}{pgvector.NewVector(p.Embedding), p.UserID, p.Threshold}
	if filtered && p.ContentType != "" {
		args = append(args, p.ContentType)
		query += fmt.Sprintf(` AND d.content_type = $%d`, len(args))
	}
	if filtered && len(p.Tags) > 0 {
		args = append(args, p.Tags)
		query += fmt.Sprintf(` AND d.auto_tags && $%d`, len(args))
	}
	query += ` ORDER BY c.embedding <=> $1, c.document_id, c.chunk_index`
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []*models.ChunkHit
	for rows.Next() {
		var h models.ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &h.Metadata,
			&h.FileName, &h.ContentType, &h.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

func (s *PostgresStorage) GetChunkHits(ctx context.Context, userID string, chunkIDs []string) (map[string]*models.ChunkHit, error) {
	out := make(map[string]*models.ChunkHit, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, d.file_name, d.content_type
		 FROM document_chunks c JOIN documents d ON d.id = c.document_id
		 WHERE d.user_id = $1 AND c.id = ANY($2)`, userID, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h models.ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &h.Metadata,
			&h.FileName, &h.ContentType); err != nil {
			return nil, err
		}
		out[h.ChunkID] = &h
	}
	return out, rows.Err()
}

func (s *PostgresStorage) CreateSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	q.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_queries (id, user_id, query_text, query_embedding, search_type, similarity_threshold,
		 max_results, content_type_filter, tag_filter, results_count, response_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		q.ID, q.UserID, q.QueryText, vectorArg(q.QueryEmbedding), string(q.SearchType), q.SimilarityThreshold,
		q.MaxResults, q.ContentTypeFilter, nonNilStrings(q.TagFilter), q.ResultsCount, q.ResponseTimeMs, q.CreatedAt)
	return err
}

func (s *PostgresStorage) UpdateSearchQueryStats(ctx context.Context, id string, resultsCount int, responseTimeMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_queries SET results_count = $1, response_time_ms = $2 WHERE id = $3`,
		resultsCount, responseTimeMs, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("search query %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) CreateSearchResults(ctx context.Context, results []*models.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, r := range results {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
		batch.Queue(
			`INSERT INTO search_results (id, search_query_id, chunk_id, similarity_score, rank_position, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.SearchQueryID, r.ChunkID, r.SimilarityScore, r.RankPosition, r.CreatedAt)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert search results: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) GetSearchQuery(ctx context.Context, id string) (*models.SearchQuery, error) {
	var (
		q          models.SearchQuery
		searchType string
		emb        string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, query_text, COALESCE(query_embedding::text, ''), search_type, similarity_threshold,
		 max_results, content_type_filter, tag_filter, results_count, response_time_ms, created_at
		 FROM search_queries WHERE id = $1`, id,
	).Scan(&q.ID, &q.UserID, &q.QueryText, &emb, &searchType, &q.SimilarityThreshold, &q.MaxResults,
		&q.ContentTypeFilter, &q.TagFilter, &q.ResultsCount, &q.ResponseTimeMs, &q.CreatedAt)
	if err != nil {
		return nil, notFound(err, "search query", id)
	}
	q.SearchType = models.SearchType(searchType)
	if q.QueryEmbedding, err = scanVector(emb); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PostgresStorage) ListSearchResults(ctx context.Context, queryID string) ([]*models.SearchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, search_query_id, chunk_id, similarity_score, rank_position, created_at
		 FROM search_results WHERE search_query_id = $1 ORDER BY rank_position`, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ID, &r.SearchQueryID, &r.ChunkID, &r.SimilarityScore, &r.RankPosition, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	return err
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "conversation", id)
	}
	return &c, nil
}

func (s *PostgresStorage) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, models.SanitizeMetadata(msg.Metadata), msg.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*models.Message
	for rows.Next() {
		var (
			m    models.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.MessageRole(role)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStorage) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE $1 = '' OR user_id = $1`, userID).Scan(&count)
	return count, err
}

func (s *PostgresStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
