package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/vector"
)

// CreateSearchQuery records a search before retrieval runs.
func (s *SQLiteStorage) CreateSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	tagsJSON, err := marshalJSON(nonNilStrings(q.TagFilter))
	if err != nil {
		return err
	}
	q.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_queries (id, user_id, query_text, query_embedding, search_type, similarity_threshold,
		 max_results, content_type_filter, tag_filter, results_count, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.QueryText, vector.Encode(q.QueryEmbedding), string(q.SearchType), q.SimilarityThreshold,
		q.MaxResults, q.ContentTypeFilter, tagsJSON, q.ResultsCount, q.ResponseTimeMs, q.CreatedAt,
	)
	return err
}

// UpdateSearchQueryStats backfills the result count and latency.
func (s *SQLiteStorage) UpdateSearchQueryStats(ctx context.Context, id string, resultsCount int, responseTimeMs int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET results_count = ?, response_time_ms = ? WHERE id = ?`,
		resultsCount, responseTimeMs, id)
	if err != nil {
		return err
	}
	return expectAffected(result, "search query", id)
}

// CreateSearchResults inserts result rows in one transaction.
func (s *SQLiteStorage) CreateSearchResults(ctx context.Context, results []*models.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO search_results (id, search_query_id, chunk_id, similarity_score, rank_position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range results {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, r.ID, r.SearchQueryID, r.ChunkID, r.SimilarityScore, r.RankPosition, r.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert search result: %w", err)
		}
	}
	return tx.Commit()
}

// GetSearchQuery returns a recorded search.
func (s *SQLiteStorage) GetSearchQuery(ctx context.Context, id string) (*models.SearchQuery, error) {
	var (
		q                  models.SearchQuery
		searchType         string
		blob               []byte
		contentType, tagsJ sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, query_text, query_embedding, search_type, similarity_threshold, max_results,
		 content_type_filter, tag_filter, results_count, response_time_ms, created_at
		 FROM search_queries WHERE id = ?`, id,
	).Scan(&q.ID, &q.UserID, &q.QueryText, &blob, &searchType, &q.SimilarityThreshold, &q.MaxResults,
		&contentType, &tagsJ, &q.ResultsCount, &q.ResponseTimeMs, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("search query %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	q.SearchType = models.SearchType(searchType)
	q.ContentTypeFilter = contentType.String
	if q.QueryEmbedding, err = vector.Decode(blob); err != nil {
		return nil, err
	}
	if tagsJ.String != "" {
		if err := json.Unmarshal([]byte(tagsJ.String), &q.TagFilter); err != nil {
			return nil, err
		}
	}
	return &q, nil
}

// ListSearchResults returns a search's results ordered by rank.
func (s *SQLiteStorage) ListSearchResults(ctx context.Context, queryID string) ([]*models.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, search_query_id, chunk_id, similarity_score, rank_position, created_at
		 FROM search_results WHERE search_query_id = ? ORDER BY rank_position`, queryID)
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

// CreateConversation inserts a conversation.
func (s *SQLiteStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation returns a conversation by ID.
func (s *SQLiteStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var (
		c     models.Conversation
		title sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Title = title.String
	return &c, nil
}

// AddMessage appends a message and touches the conversation's updated_at.
func (s *SQLiteStorage) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	metadataJSON, err := marshalJSON(models.SanitizeMetadata(msg.Metadata))
	if err != nil {
		return err
	}
	msg.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, metadataJSON, msg.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages in insertion order.
func (s *SQLiteStorage) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			m            models.Message
			role         string
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metadataJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.MessageRole(role)
		if m.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
