package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/docsight/internal/config"
	"github.com/hyperjump/docsight/internal/embedding"
	"github.com/hyperjump/docsight/internal/keyword"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/storage"
)

var testConfig = config.SearchConfig{
	DefaultLimit:               10,
	MaxLimit:                   50,
	DefaultSimilarityThreshold: 0.7,
	KeywordWeight:              0.3,
	SemanticWeight:             0.7,
}

var corpus = []string{
	"the quick brown fox jumps over the lazy dog",
	"quarterly revenue grew by twelve percent",
	"photosynthesis converts light into chemical energy",
}

type fixture struct {
	store  *storage.SQLiteStorage
	emb    *embedding.MockEmbedder
	userID string
	chunks []*models.DocumentChunk
}

func newFixture(t *testing.T, kw keyword.Index) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	user, err := store.GetOrCreateUser(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{
		UserID:      user.ID,
		FileName:    "notes.txt",
		FilePath:    "uploads/notes.txt",
		MimeType:    "text/plain",
		ContentType: models.CategoryText,
		AutoTags:    []string{"animals"},
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	f := &fixture{store: store, emb: embedding.NewMockEmbedder(64), userID: user.ID}
	now := time.Now().UTC()
	for i, text := range corpus {
		vec, err := f.emb.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		ch := &models.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    text,
			Embedding:  vec,
			EmbeddedAt: &now,
		}
		if err := store.CreateChunk(ctx, ch); err != nil {
			t.Fatal(err)
		}
		f.chunks = append(f.chunks, ch)
	}
	if kw != nil {
		if err := kw.IndexChunks(ctx, doc, f.chunks); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func threshold(v float64) *float64 { return &v }

func TestEngine_Search_exactMatchRanksFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:               corpus[1],
		UserID:              f.userID,
		SimilarityThreshold: threshold(0.5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total < 1 {
		t.Fatalf("expected at least one result, got %d", resp.Total)
	}
	top := resp.Results[0]
	if top.ChunkID != f.chunks[1].ID || top.Rank != 1 {
		t.Errorf("top result = %s rank %d, want %s rank 1", top.ChunkID, top.Rank, f.chunks[1].ID)
	}
	if top.Similarity < 0.99 {
		t.Errorf("exact match similarity = %f, want >= 0.99", top.Similarity)
	}
	if resp.Degraded || resp.Metadata.Path != PathFiltered {
		t.Errorf("unexpected path %q degraded=%v", resp.Metadata.Path, resp.Degraded)
	}
	if resp.SearchType != models.SearchTypeSemantic {
		t.Errorf("search type = %s, want semantic default", resp.SearchType)
	}
}

func TestEngine_Search_highThresholdReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:               "completely unrelated question about tax law",
		UserID:              f.userID,
		SimilarityThreshold: threshold(0.99),
	})
	if err != nil {
		t.Fatalf("zero matches must not be an error: %v", err)
	}
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Errorf("expected no results, got %d", resp.Total)
	}
	q, err := f.store.GetSearchQuery(ctx, resp.QueryID)
	if err != nil {
		t.Fatal(err)
	}
	if q.ResultsCount != 0 || q.SimilarityThreshold != 0.99 {
		t.Errorf("recorded query = %+v", q)
	}
}

func TestEngine_Search_thresholdMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	prev := -1
	for _, th := range []float64{0, 0.3, 0.6, 0.9, 0.999} {
		resp, err := engine.Search(ctx, &models.SearchRequest{
			Query:               corpus[0],
			UserID:              f.userID,
			SimilarityThreshold: threshold(th),
		})
		if err != nil {
			t.Fatal(err)
		}
		if prev >= 0 && resp.Total > prev {
			t.Errorf("threshold %.3f returned %d results, more than %d at a lower threshold", th, resp.Total, prev)
		}
		for _, h := range resp.Results {
			if h.Similarity <= th {
				t.Errorf("threshold %.3f: result similarity %f not above threshold", th, h.Similarity)
			}
		}
		prev = resp.Total
	}
}

func TestEngine_Search_persistsRanks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:               corpus[2],
		UserID:              f.userID,
		SimilarityThreshold: threshold(0),
		MaxResults:          2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total > 2 {
		t.Fatalf("max results not honored: %d", resp.Total)
	}
	stored, err := f.store.ListSearchResults(ctx, resp.QueryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != resp.Total {
		t.Fatalf("stored %d results, response has %d", len(stored), resp.Total)
	}
	for i, r := range stored {
		if r.RankPosition != i+1 {
			t.Errorf("result %d has rank %d", i, r.RankPosition)
		}
		if r.ChunkID != resp.Results[i].ChunkID {
			t.Errorf("rank %d chunk = %s, want %s", i+1, r.ChunkID, resp.Results[i].ChunkID)
		}
	}
}

func TestEngine_Search_validation(t *testing.T) {
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	tests := []struct {
		name string
		req  *models.SearchRequest
	}{
		{"empty query", &models.SearchRequest{Query: "  ", UserID: f.userID}},
		{"no user", &models.SearchRequest{Query: "fox"}},
		{"bad type", &models.SearchRequest{Query: "fox", UserID: f.userID, SearchType: "fuzzy"}},
		{"threshold out of range", &models.SearchRequest{Query: "fox", UserID: f.userID, SimilarityThreshold: threshold(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.req)
			if !models.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// failingStore fails the filtered lookup and optionally the basic one.
type failingStore struct {
	*storage.SQLiteStorage
	failBasic bool
}

func (s *failingStore) SearchChunksFiltered(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	return nil, errors.New("vector extension missing")
}

func (s *failingStore) SearchChunksBasic(ctx context.Context, p *models.SimilarityParams) ([]*models.ChunkHit, error) {
	if s.failBasic {
		return nil, errors.New("database offline")
	}
	return s.SQLiteStorage.SearchChunksBasic(ctx, p)
}

func TestEngine_Search_fallsBackToBasic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(&failingStore{SQLiteStorage: f.store}, f.emb, nil, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:               corpus[0],
		UserID:              f.userID,
		SimilarityThreshold: threshold(0.5),
		ContentType:         models.CategoryText,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded || resp.Metadata.Path != PathBasic || resp.Metadata.FallbackReason == "" {
		t.Errorf("expected degraded basic path, got %+v degraded=%v", resp.Metadata, resp.Degraded)
	}
	if resp.Total < 1 || resp.Results[0].ChunkID != f.chunks[0].ID {
		t.Fatalf("fallback should still find the exact match, got %d results", resp.Total)
	}
	q, err := f.store.GetSearchQuery(ctx, resp.QueryID)
	if err != nil {
		t.Fatal(err)
	}
	if q.ResultsCount != resp.Total {
		t.Errorf("recorded results_count = %d, want %d", q.ResultsCount, resp.Total)
	}
}

func TestEngine_Search_unavailable(t *testing.T) {
	f := newFixture(t, nil)
	engine := NewEngine(&failingStore{SQLiteStorage: f.store, failBasic: true}, f.emb, nil, testConfig)

	_, err := engine.Search(context.Background(), &models.SearchRequest{Query: "fox", UserID: f.userID})
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestEngine_Search_tagFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	tests := []struct {
		tags []string
		want bool
	}{
		{[]string{"animals"}, true},
		{[]string{"Animals", "finance"}, true},
		{[]string{"finance"}, false},
	}
	for _, tt := range tests {
		resp, err := engine.Search(ctx, &models.SearchRequest{
			Query:               corpus[0],
			UserID:              f.userID,
			SimilarityThreshold: threshold(0.5),
			RequiredTags:        tt.tags,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := resp.Total > 0; got != tt.want {
			t.Errorf("tags %v: found=%v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestEngine_Search_keyword(t *testing.T) {
	ctx := context.Background()
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	f := newFixture(t, kw)
	engine := NewEngine(f.store, f.emb, kw, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:      "revenue",
		UserID:     f.userID,
		SearchType: models.SearchTypeKeyword,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].ChunkID != f.chunks[1].ID {
		t.Fatalf("expected the revenue chunk, got %d results", resp.Total)
	}
	if resp.Results[0].Similarity != 1.0 || resp.Metadata.Path != PathKeyword {
		t.Errorf("got similarity %f path %q", resp.Results[0].Similarity, resp.Metadata.Path)
	}
	if f.emb.Calls() != int64(len(corpus)) {
		t.Errorf("keyword search should not embed the query")
	}
}

func TestEngine_Search_keywordFiltersAndFuzzy(t *testing.T) {
	ctx := context.Background()
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	f := newFixture(t, kw)
	engine := NewEngine(f.store, f.emb, kw, testConfig)

	tests := []struct {
		name  string
		query string
		tags  []string
		want  int
	}{
		{"matching tag", "revenue", []string{"animals"}, 1},
		{"other tag", "revenue", []string{"finance"}, 0},
		{"typo falls back to fuzzy", "revenu", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := engine.Search(ctx, &models.SearchRequest{
				Query:        tt.query,
				UserID:       f.userID,
				SearchType:   models.SearchTypeKeyword,
				RequiredTags: tt.tags,
			})
			if err != nil {
				t.Fatal(err)
			}
			if resp.Total != tt.want {
				t.Fatalf("got %d results, want %d", resp.Total, tt.want)
			}
			if tt.want > 0 && resp.Results[0].ChunkID != f.chunks[1].ID {
				t.Errorf("expected the revenue chunk")
			}
		})
	}
}

func TestEngine_Search_keywordWithoutIndex(t *testing.T) {
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)
	_, err := engine.Search(context.Background(), &models.SearchRequest{
		Query: "fox", UserID: f.userID, SearchType: models.SearchTypeKeyword,
	})
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestEngine_Search_hybrid(t *testing.T) {
	ctx := context.Background()
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	f := newFixture(t, kw)
	engine := NewEngine(f.store, f.emb, kw, testConfig)

	resp, err := engine.Search(ctx, &models.SearchRequest{
		Query:               corpus[2],
		UserID:              f.userID,
		SearchType:          models.SearchTypeHybrid,
		SimilarityThreshold: threshold(0.5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total < 1 || resp.Results[0].ChunkID != f.chunks[2].ID {
		t.Fatalf("expected the photosynthesis chunk first, got %d results", resp.Total)
	}
	if resp.Degraded || resp.Metadata.Path != PathHybrid {
		t.Errorf("unexpected path %q degraded=%v", resp.Metadata.Path, resp.Degraded)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Similarity > resp.Results[i-1].Similarity {
			t.Errorf("results not sorted at %d", i)
		}
	}
}

func TestEngine_Search_hybridWithoutKeywordDegrades(t *testing.T) {
	f := newFixture(t, nil)
	engine := NewEngine(f.store, f.emb, nil, testConfig)

	resp, err := engine.Search(context.Background(), &models.SearchRequest{
		Query:               corpus[2],
		UserID:              f.userID,
		SearchType:          models.SearchTypeHybrid,
		SimilarityThreshold: threshold(0.5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded || resp.Metadata.FallbackReason == "" {
		t.Errorf("expected degraded hybrid search, got %+v", resp.Metadata)
	}
	if resp.Total < 1 || resp.Results[0].ChunkID != f.chunks[2].ID {
		t.Errorf("semantic leg should still find the exact match")
	}
}
