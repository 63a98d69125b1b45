// Package search answers semantic, keyword and hybrid queries over a user's chunks and
// records every query with its ranked results.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/config"
	"github.com/hyperjump/docsight/internal/embedding"
	"github.com/hyperjump/docsight/internal/keyword"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/pkg/utils"
)

// ErrSearchUnavailable is returned when no retrieval path could serve a query.
var ErrSearchUnavailable = errors.New("search unavailable")

// Retrieval paths reported in SearchMetadata.Path.
const (
	PathFiltered = "filtered"
	PathBasic    = "basic"
	PathKeyword  = "keyword"
	PathHybrid   = "hybrid"
)

// keywordOverfetch widens keyword lookups so post-filtering by content type and tags still
// fills a page.
const keywordOverfetch = 3

// Store is the persistence the engine needs.
type Store interface {
	SearchChunksFiltered(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error)
	SearchChunksBasic(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error)
	GetChunkHits(ctx context.Context, userID string, chunkIDs []string) (map[string]*models.ChunkHit, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CreateSearchQuery(ctx context.Context, q *models.SearchQuery) error
	UpdateSearchQueryStats(ctx context.Context, id string, resultsCount int, responseTimeMs int64) error
	CreateSearchResults(ctx context.Context, results []*models.SearchResult) error
}

// Engine runs searches. The keyword index is optional; without it keyword searches fail and
// hybrid searches degrade to semantic only.
type Engine struct {
	store    Store
	embedder embedding.Embedder
	keyword  keyword.Index
	cfg      config.SearchConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine. kw may be nil.
func NewEngine(store Store, embedder embedding.Embedder, kw keyword.Index, cfg config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		keyword:  kw,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// outcome is what a retrieval path produced.
type outcome struct {
	hits     []*models.ChunkHit
	meta     models.SearchMetadata
	degraded bool
}

// Search validates req, runs the requested retrieval path, and records the query and its
// ranked results. A search with zero matches returns an empty result set and no error.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(e.cfg.DefaultLimit, e.cfg.DefaultSimilarityThreshold); err != nil {
		return nil, err
	}
	if e.cfg.MaxLimit > 0 && req.MaxResults > e.cfg.MaxLimit {
		req.MaxResults = e.cfg.MaxLimit
	}

	var queryEmbedding []float32
	if req.SearchType != models.SearchTypeKeyword {
		vec, err := e.embedder.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to embed query: %w", ErrSearchUnavailable, err)
		}
		queryEmbedding = vec
	}

	record := &models.SearchQuery{
		UserID:              req.UserID,
		QueryText:           req.Query,
		QueryEmbedding:      queryEmbedding,
		SearchType:          req.SearchType,
		SimilarityThreshold: req.Threshold(),
		MaxResults:          req.MaxResults,
		ContentTypeFilter:   req.ContentType,
		TagFilter:           req.RequiredTags,
	}
	if err := e.store.CreateSearchQuery(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record search query: %w", err)
	}

	var (
		out *outcome
		err error
	)
	switch req.SearchType {
	case models.SearchTypeKeyword:
		out, err = e.keywordSearch(ctx, req)
	case models.SearchTypeHybrid:
		out, err = e.hybridSearch(ctx, req, queryEmbedding)
	default:
		out, err = e.semanticSearch(ctx, req, queryEmbedding, req.MaxResults)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start).Milliseconds()
	if err := e.store.UpdateSearchQueryStats(ctx, record.ID, len(out.hits), elapsed); err != nil {
		return nil, fmt.Errorf("failed to update search query stats: %w", err)
	}
	results := make([]*models.SearchResult, len(out.hits))
	hits := make([]*models.SearchHit, len(out.hits))
	for i, h := range out.hits {
		results[i] = &models.SearchResult{
			SearchQueryID:   record.ID,
			ChunkID:         h.ChunkID,
			SimilarityScore: h.Similarity,
			RankPosition:    i + 1,
		}
		hits[i] = &models.SearchHit{Rank: i + 1, ChunkHit: *h}
	}
	if err := e.store.CreateSearchResults(ctx, results); err != nil {
		return nil, fmt.Errorf("failed to record search results: %w", err)
	}

	out.meta.Threshold = req.Threshold()
	e.logger.Debug("search completed",
		zap.String("query_id", record.ID),
		zap.String("type", string(req.SearchType)),
		zap.String("path", out.meta.Path),
		zap.Int("results", len(hits)),
		zap.Int64("elapsed_ms", elapsed),
		zap.Bool("degraded", out.degraded))

	return &models.SearchResponse{
		QueryID:     record.ID,
		Query:       req.Query,
		SearchType:  req.SearchType,
		Results:     hits,
		Total:       len(hits),
		QueryTimeMs: elapsed,
		Degraded:    out.degraded,
		Metadata:    out.meta,
	}, nil
}

// semanticSearch tries the filtered lookup and falls back to the unfiltered one when it fails.
func (e *Engine) semanticSearch(ctx context.Context, req *models.SearchRequest, vec []float32, limit int) (*outcome, error) {
	params := &models.SimilarityParams{
		UserID:      req.UserID,
		Embedding:   vec,
		Threshold:   req.Threshold(),
		Limit:       limit,
		ContentType: req.ContentType,
		Tags:        req.RequiredTags,
	}
	hits, err := e.store.SearchChunksFiltered(ctx, params)
	if err == nil {
		return &outcome{
			hits: hits,
			meta: models.SearchMetadata{Path: PathFiltered, ContentType: req.ContentType, Tags: req.RequiredTags},
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	reason := fmt.Sprintf("filtered lookup failed: %v", err)
	e.logger.Warn("filtered similarity search failed, falling back to basic",
		zap.String("user_id", req.UserID), zap.Error(err))

	hits, basicErr := e.store.SearchChunksBasic(ctx, params)
	if basicErr != nil {
		e.logger.Error("basic similarity search failed", zap.String("user_id", req.UserID), zap.Error(basicErr))
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, errors.Join(err, basicErr))
	}
	return &outcome{
		hits:     hits,
		meta:     models.SearchMetadata{Path: PathBasic, FallbackReason: reason},
		degraded: true,
	}, nil
}

// keywordSearch ranks chunks by BM25 score normalized to the best hit. The similarity
// threshold does not apply; the content type filter does.
func (e *Engine) keywordSearch(ctx context.Context, req *models.SearchRequest) (*outcome, error) {
	if e.keyword == nil {
		return nil, fmt.Errorf("%w: keyword index not configured", ErrSearchUnavailable)
	}
	hits, err := e.keywordHits(ctx, req, req.MaxResults*keywordOverfetch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}
	if len(hits) > req.MaxResults {
		hits = hits[:req.MaxResults]
	}
	return &outcome{
		hits: hits,
		meta: models.SearchMetadata{Path: PathKeyword, ContentType: req.ContentType, Tags: req.RequiredTags},
	}, nil
}

// keywordHits resolves keyword results to chunk hits in score order. Similarity is the
// normalized keyword score. A query with no exact matches is retried with fuzzy matching.
func (e *Engine) keywordHits(ctx context.Context, req *models.SearchRequest, limit int) ([]*models.ChunkHit, error) {
	results, err := e.keyword.Search(ctx, req.UserID, req.Query, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(results) == 0 {
		results, err = e.keyword.Search(ctx, req.UserID, req.Query, limit, &keyword.SearchOptions{FuzzyEnabled: true})
		if err != nil {
			return nil, fmt.Errorf("fuzzy keyword search: %w", err)
		}
		if len(results) > 0 {
			e.logger.Debug("Keyword search matched fuzzily", zap.String("query", req.Query), zap.Int("results", len(results)))
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	scores := NormalizeKeywordScores(results)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	byID, err := e.store.GetChunkHits(ctx, req.UserID, ids)
	if err != nil {
		return nil, fmt.Errorf("load keyword hits: %w", err)
	}
	hits := make([]*models.ChunkHit, 0, len(results))
	tagged := make(map[string]bool)
	for _, r := range results {
		h, ok := byID[r.ChunkID]
		if !ok {
			continue
		}
		if req.ContentType != "" && h.ContentType != req.ContentType {
			continue
		}
		if len(req.RequiredTags) > 0 {
			ok, err := e.documentTagged(ctx, h.DocumentID, req.RequiredTags, tagged)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		h.Similarity = scores[r.ChunkID]
		hits = append(hits, h)
	}
	return hits, nil
}

// documentTagged reports whether the document's auto tags overlap tags. Answers are memoized
// in seen for the duration of one search.
func (e *Engine) documentTagged(ctx context.Context, docID string, tags []string, seen map[string]bool) (bool, error) {
	if ok, cached := seen[docID]; cached {
		return ok, nil
	}
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			seen[docID] = false
			return false, nil
		}
		return false, fmt.Errorf("load document tags: %w", err)
	}
	ok := false
	for _, have := range doc.AutoTags {
		for _, want := range tags {
			if have == want {
				ok = true
			}
		}
	}
	seen[docID] = ok
	return ok, nil
}

// hybridSearch fuses semantic and keyword candidates by the configured weights. When the
// keyword path is unavailable the result degrades to semantic only.
func (e *Engine) hybridSearch(ctx context.Context, req *models.SearchRequest, vec []float32) (*outcome, error) {
	candidates := req.MaxResults * keywordOverfetch
	sem, err := e.semanticSearch(ctx, req, vec, candidates)
	if err != nil {
		return nil, err
	}

	var kwHits []*models.ChunkHit
	reason := sem.meta.FallbackReason
	degraded := sem.degraded
	if e.keyword == nil {
		degraded = true
		reason = joinReason(reason, "keyword index not configured")
	} else if kwHits, err = e.keywordHits(ctx, req, candidates); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("keyword leg of hybrid search failed", zap.String("user_id", req.UserID), zap.Error(err))
		degraded = true
		reason = joinReason(reason, err.Error())
		kwHits = nil
	}

	byID := make(map[string]*models.ChunkHit, len(sem.hits)+len(kwHits))
	kwScores := make(map[string]float64, len(kwHits))
	for _, h := range kwHits {
		byID[h.ChunkID] = h
		kwScores[h.ChunkID] = h.Similarity
	}
	for _, h := range sem.hits {
		byID[h.ChunkID] = h
	}
	fused := Fuse(kwScores, NormalizeSemanticScores(sem.hits), e.cfg.KeywordWeight, e.cfg.SemanticWeight)
	if len(fused) > req.MaxResults {
		fused = fused[:req.MaxResults]
	}
	hits := make([]*models.ChunkHit, len(fused))
	for i, f := range fused {
		h := *byID[f.ChunkID]
		h.Similarity = f.Score
		hits[i] = &h
	}

	meta := sem.meta
	meta.Path = PathHybrid
	meta.FallbackReason = reason
	return &outcome{hits: hits, meta: meta, degraded: degraded}, nil
}

func joinReason(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
