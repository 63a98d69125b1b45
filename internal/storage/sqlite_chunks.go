package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/vector"
)

// CreateChunk inserts a chunk. Embedding and EmbeddedAt are written as given.
func (s *SQLiteStorage) CreateChunk(ctx context.Context, chunk *models.DocumentChunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	metadataJSON, err := marshalJSON(models.SanitizeMetadata(chunk.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	chunk.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_chunks (id, document_id, chunk_index, content, metadata, word_count, char_count,
		 embedding, embedded_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content, metadataJSON, chunk.WordCount,
		chunk.CharCount, vector.Encode(chunk.Embedding), chunk.EmbeddedAt, chunk.CreatedAt,
	)
	return err
}

// GetChunksByDocumentID returns a document's chunks ordered by chunk index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, metadata, word_count, char_count,
		 embedding, embedded_at, created_at
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.DocumentChunk
	for rows.Next() {
		var (
			c            models.DocumentChunk
			metadataJSON sql.NullString
			blob         []byte
			embeddedAt   sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &metadataJSON, &c.WordCount,
			&c.CharCount, &blob, &embeddedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		if c.Embedding, err = vector.Decode(blob); err != nil {
			return nil, err
		}
		if embeddedAt.Valid {
			t := embeddedAt.Time
			c.EmbeddedAt = &t
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// GetOrCreateTag returns the tag named name, creating it if needed. Names are case-folded.
func (s *SQLiteStorage) GetOrCreateTag(ctx context.Context, name, category string) (*models.Tag, error) {
	name = models.NormalizeTagName(name)
	if name == "" {
		return nil, models.NewValidationError("name", "tag name is required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, category, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		uuid.New().String(), name, category, time.Now().UTC(),
	); err != nil {
		return nil, err
	}
	var (
		t   models.Tag
		cat sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, created_at FROM tags WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &cat, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Category = cat.String
	return &t, nil
}

// UpsertDocumentTag links a tag to a document, keeping the higher confidence.
func (s *SQLiteStorage) UpsertDocumentTag(ctx context.Context, dt *models.DocumentTag) (*models.DocumentTag, error) {
	if !dt.Source.Valid() {
		return nil, models.NewValidationError("source", fmt.Sprintf("unknown tag source %q", dt.Source))
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO document_tags (document_id, tag_id, confidence, source, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, tag_id) DO UPDATE SET
		   source = CASE WHEN excluded.confidence > document_tags.confidence
		                 THEN excluded.source ELSE document_tags.source END,
		   confidence = MAX(document_tags.confidence, excluded.confidence)`,
		dt.DocumentID, dt.TagID, dt.Confidence, string(dt.Source), time.Now().UTC(),
	); err != nil {
		return nil, err
	}
	var (
		out    models.DocumentTag
		source string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dt.document_id, dt.tag_id, t.name, dt.confidence, dt.source, dt.created_at
		 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		 WHERE dt.document_id = ? AND dt.tag_id = ?`, dt.DocumentID, dt.TagID,
	).Scan(&out.DocumentID, &out.TagID, &out.TagName, &out.Confidence, &source, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	out.Source = models.TagSource(source)
	return &out, nil
}

// ListDocumentTags returns a document's tags ordered by confidence desc, then name.
func (s *SQLiteStorage) ListDocumentTags(ctx context.Context, docID string) ([]*models.DocumentTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dt.document_id, dt.tag_id, t.name, dt.confidence, dt.source, dt.created_at
		 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		 WHERE dt.document_id = ? ORDER BY dt.confidence DESC, t.name`, docID)
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

// SearchChunksFiltered finds the user's chunks nearest to p.Embedding, restricted by content
// type and by overlap between the document's auto_tags and p.Tags.
func (s *SQLiteStorage) SearchChunksFiltered(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	return s.searchChunks(ctx, p, true)
}

// SearchChunksBasic finds the user's chunks nearest to p.Embedding with no content filters.
func (s *SQLiteStorage) SearchChunksBasic(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	return s.searchChunks(ctx, p, false)
}

type scoredHit struct {
	hit      *models.ChunkHit
	distance float64
}

func (s *SQLiteStorage) searchChunks(ctx context.Context, p *models.SimilarityParams, filtered bool) ([]*models.ChunkHit, error) {
	if len(p.Embedding) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	query := `SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, c.embedding,
		d.file_name, d.content_type, d.auto_tags
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.user_id = ? AND c.embedding IS NOT NULL`
	args := []interface{}{p.UserID}
	if filtered && p.ContentType != "" {
		query += ` AND d.content_type = ?`
		args = append(args, p.ContentType)
	}
	query += ` ORDER BY c.document_id, c.chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var want map[string]bool
	if filtered && len(p.Tags) > 0 {
		want = make(map[string]bool, len(p.Tags))
		for _, t := range p.Tags {
			want[t] = true
		}
	}

	var scored []scoredHit
	for rows.Next() {
		var (
			h                 models.ChunkHit
			metadataJSON      sql.NullString
			contentType, tags sql.NullString
			blob              []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &metadataJSON, &blob,
			&h.FileName, &contentType, &tags); err != nil {
			return nil, err
		}
		if want != nil && !tagsOverlap(tags.String, want) {
			continue
		}
		emb, err := vector.Decode(blob)
		if err != nil {
			return nil, err
		}
		dist := vector.CosineDistance(p.Embedding, emb)
		h.Similarity = 1 - dist
		if h.Similarity <= p.Threshold {
			continue
		}
		h.ContentType = contentType.String
		if h.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		scored = append(scored, scoredHit{hit: &h, distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].distance < scored[j].distance })
	if p.Limit > 0 && len(scored) > p.Limit {
		scored = scored[:p.Limit]
	}
	hits := make([]*models.ChunkHit, len(scored))
	for i, sh := range scored {
		hits[i] = sh.hit
	}
	return hits, nil
}

// GetChunkHits loads the given chunks owned by userID, keyed by chunk ID. Unknown IDs are omitted.
func (s *SQLiteStorage) GetChunkHits(ctx context.Context, userID string, chunkIDs []string) (map[string]*models.ChunkHit, error) {
	out := make(map[string]*models.ChunkHit, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	args := []interface{}{userID}
	for _, id := range chunkIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, d.file_name, d.content_type
		 FROM document_chunks c JOIN documents d ON d.id = c.document_id
		 WHERE d.user_id = ? AND c.id IN (`+placeholders(len(chunkIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			h            models.ChunkHit
			metadataJSON sql.NullString
			contentType  sql.NullString
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &metadataJSON,
			&h.FileName, &contentType); err != nil {
			return nil, err
		}
		h.ContentType = contentType.String
		if h.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		out[h.ChunkID] = &h
	}
	return out, rows.Err()
}

func tagsOverlap(tagsJSON string, want map[string]bool) bool {
	if tagsJSON == "" {
		return false
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return false
	}
	for _, t := range tags {
		if want[t] {
			return true
		}
	}
	return false
}

func unmarshalMetadata(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}
