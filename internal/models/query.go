package models

import (
	"fmt"
	"strings"
	"time"
)

// SearchType selects the retrieval strategy.
type SearchType string

const (
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeKeyword  SearchType = "keyword"
	SearchTypeHybrid   SearchType = "hybrid"
)

// Valid reports whether t is a known search type.
func (t SearchType) Valid() bool {
	switch t {
	case SearchTypeSemantic, SearchTypeKeyword, SearchTypeHybrid:
		return true
	}
	return false
}

// MaxSearchResults is the hard cap on results per query.
const MaxSearchResults = 50

// SearchRequest is a search issued on behalf of a user.
type SearchRequest struct {
	Query               string     `json:"query"`
	UserID              string     `json:"-"`
	SearchType          SearchType `json:"search_type,omitempty"`
	MaxResults          int        `json:"max_results,omitempty"`
	SimilarityThreshold *float64   `json:"similarity_threshold,omitempty"`
	ContentType         string     `json:"content_type,omitempty"`
	RequiredTags        []string   `json:"tags,omitempty"`
}

// Validate checks the request and applies defaults. defaultLimit and defaultThreshold are
// used when the request leaves them unset.
func (q *SearchRequest) Validate(defaultLimit int, defaultThreshold float64) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return NewValidationError("query", "query cannot be empty")
	}
	if q.UserID == "" {
		return NewValidationError("user_id", "user id is required")
	}
	if q.SearchType == "" {
		q.SearchType = SearchTypeSemantic
	}
	if !q.SearchType.Valid() {
		return NewValidationError("search_type", fmt.Sprintf("unknown search type %q", q.SearchType))
	}
	if q.MaxResults <= 0 {
		q.MaxResults = defaultLimit
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 10
	}
	if q.MaxResults > MaxSearchResults {
		q.MaxResults = MaxSearchResults
	}
	if q.SimilarityThreshold == nil {
		t := defaultThreshold
		q.SimilarityThreshold = &t
	}
	if t := *q.SimilarityThreshold; t < 0 || t > 1 {
		return NewValidationError("similarity_threshold", "similarity threshold must be within [0,1]")
	}
	tags := q.RequiredTags[:0]
	for _, tag := range q.RequiredTags {
		if n := NormalizeTagName(tag); n != "" {
			tags = append(tags, n)
		}
	}
	q.RequiredTags = tags
	return nil
}

// Threshold returns the similarity threshold, or 0 when unset.
func (q *SearchRequest) Threshold() float64 {
	if q.SimilarityThreshold == nil {
		return 0
	}
	return *q.SimilarityThreshold
}

// SearchQuery is the persisted record of a search for analytics and debugging.
// Only ResultsCount and ResponseTimeMs change after creation.
type SearchQuery struct {
	ID                  string     `json:"id" db:"id"`
	UserID              string     `json:"user_id" db:"user_id"`
	QueryText           string     `json:"query_text" db:"query_text"`
	QueryEmbedding      []float32  `json:"-" db:"query_embedding"`
	SearchType          SearchType `json:"search_type" db:"search_type"`
	SimilarityThreshold float64    `json:"similarity_threshold" db:"similarity_threshold"`
	MaxResults          int        `json:"max_results" db:"max_results"`
	ContentTypeFilter   string     `json:"content_type_filter,omitempty" db:"content_type_filter"`
	TagFilter           []string   `json:"tag_filter,omitempty" db:"tag_filter"`
	ResultsCount        int        `json:"results_count" db:"results_count"`
	ResponseTimeMs      int64      `json:"response_time_ms" db:"response_time_ms"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// SimilarityParams describes a vector lookup against stored chunks.
type SimilarityParams struct {
	UserID      string
	Embedding   []float32
	Threshold   float64
	Limit       int
	ContentType string
	// Tags restricts results to documents whose auto_tags intersect this set.
	Tags []string
}
