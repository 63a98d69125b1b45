package models

import "time"

// ChunkHit is a chunk matched by a lookup together with its owning document fields.
type ChunkHit struct {
	ChunkID     string                 `json:"chunk_id"`
	DocumentID  string                 `json:"document_id"`
	ChunkIndex  int                    `json:"chunk_index"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	FileName    string                 `json:"file_name"`
	ContentType string                 `json:"content_type"`
	Similarity  float64                `json:"similarity"`
}

// SearchResult is the persisted association between a query and a returned chunk.
// RankPosition starts at 1.
type SearchResult struct {
	ID              string    `json:"id" db:"id"`
	SearchQueryID   string    `json:"search_query_id" db:"search_query_id"`
	ChunkID         string    `json:"chunk_id" db:"chunk_id"`
	SimilarityScore float64   `json:"similarity_score" db:"similarity_score"`
	RankPosition    int       `json:"rank_position" db:"rank_position"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SearchHit is a single ranked result returned to callers.
type SearchHit struct {
	Rank int `json:"rank"`
	ChunkHit
}

// SearchMetadata reports which retrieval path served a search.
type SearchMetadata struct {
	// Path is one of "filtered", "basic", "keyword", "hybrid".
	Path           string   `json:"path"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Threshold      float64  `json:"similarity_threshold"`
	ContentType    string   `json:"content_type,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// SearchResponse is the response for a search request. An empty Results slice with a nil
// error is a legitimate zero-match outcome.
type SearchResponse struct {
	QueryID     string         `json:"query_id"`
	Query       string         `json:"query"`
	SearchType  SearchType     `json:"search_type"`
	Results     []*SearchHit   `json:"results"`
	Total       int            `json:"total"`
	QueryTimeMs int64          `json:"query_time_ms"`
	Degraded    bool           `json:"degraded"`
	Metadata    SearchMetadata `json:"search_metadata"`
}
