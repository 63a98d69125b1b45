package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/docsight/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestDocument(t *testing.T, store *SQLiteStorage, userID, contentType string) *models.Document {
	t.Helper()
	doc := &models.Document{
		UserID:      userID,
		FileName:    "notes.txt",
		FilePath:    "users/" + userID + "/notes.txt",
		MimeType:    "text/plain",
		ContentType: contentType,
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestSQLiteStorage_DocumentCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	doc := newTestDocument(t, store, user.ID, models.CategoryText)
	if doc.Status != models.StatusUploaded {
		t.Errorf("status = %s, want uploaded", doc.Status)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	update := &models.ContentUpdate{
		ExtractedText:      "hello world",
		ContentType:        models.CategoryText,
		Title:              "Greeting",
		WordCount:          2,
		CharCount:          11,
		ProcessingMetadata: map[string]interface{}{"summary": "hi", "key_topics": []string{"greeting"}, "page_count": "bad"},
	}
	if err := store.UpdateDocumentContent(ctx, doc.ID, update); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExtractedText != "hello world" || got.Title != "Greeting" || got.WordCount != 2 {
		t.Errorf("got %+v", got)
	}
	if got.ProcessingMetadata["summary"] != "hi" {
		t.Errorf("metadata = %v", got.ProcessingMetadata)
	}
	if _, ok := got.ProcessingMetadata["page_count"]; ok {
		t.Error("wrongly shaped page_count should be dropped")
	}
	if got.AutoTags == nil || len(got.AutoTags) != 0 {
		t.Errorf("AutoTags = %v, want empty", got.AutoTags)
	}

	list, err := store.ListDocuments(ctx, user.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}
	other, _ := store.ListDocuments(ctx, "someone-else", 0, 10)
	if len(other) != 0 {
		t.Errorf("documents leaked across users: %d", len(other))
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, doc.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.UpdateDocumentContent(ctx, "missing", update); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_TransitionStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, _ := store.GetOrCreateUser(ctx, "s")
	doc := newTestDocument(t, store, user.ID, models.CategoryText)

	for _, to := range []models.Status{models.StatusProcessing, models.StatusChunking, models.StatusEmbedding} {
		if err := store.TransitionStatus(ctx, doc.ID, to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	err := store.TransitionStatus(ctx, doc.ID, models.StatusChunking, "")
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("backwards transition: got %v", err)
	}
	var te *models.TransitionError
	if !errors.As(err, &te) || te.From != models.StatusEmbedding {
		t.Errorf("TransitionError = %+v", te)
	}

	if err := store.TransitionStatus(ctx, doc.ID, models.StatusProcessed, ""); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusProcessed || got.ProcessedAt == nil {
		t.Errorf("status = %s processed_at = %v", got.Status, got.ProcessedAt)
	}
	if err := store.TransitionStatus(ctx, doc.ID, models.StatusError, "late"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("terminal state left: %v", err)
	}

	skipping := newTestDocument(t, store, user.ID, models.CategoryText)
	if err := store.TransitionStatus(ctx, skipping.ID, models.StatusProcessed, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("uploaded -> processed: got %v", err)
	}
	got, _ = store.GetDocument(ctx, skipping.ID)
	if got.Status != models.StatusUploaded || got.ProcessedAt != nil {
		t.Errorf("skipped transition changed the document: status=%s processed_at=%v", got.Status, got.ProcessedAt)
	}

	failing := newTestDocument(t, store, user.ID, models.CategoryText)
	_ = store.TransitionStatus(ctx, failing.ID, models.StatusProcessing, "")
	if err := store.TransitionStatus(ctx, failing.ID, models.StatusError, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, failing.ID)
	if got.Status != models.StatusError || got.ProcessingError != "boom" || got.ProcessedAt != nil {
		t.Errorf("got status=%s error=%q processed_at=%v", got.Status, got.ProcessingError, got.ProcessedAt)
	}

	if err := store.TransitionStatus(ctx, "missing", models.StatusProcessing, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_GetOrCreateUserConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := store.GetOrCreateUser(ctx, "shared-session")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one user row, got ids %v", ids)
		}
	}
	if _, err := store.GetOrCreateUser(ctx, ""); !models.IsValidation(err) {
		t.Errorf("empty session id: %v", err)
	}
}

func TestSQLiteStorage_ChunksAndSimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, _ := store.GetOrCreateUser(ctx, "s")
	textDoc := newTestDocument(t, store, user.ID, models.CategoryText)
	imageDoc := newTestDocument(t, store, user.ID, models.CategoryImage)

	chunks := []*models.DocumentChunk{
		{DocumentID: textDoc.ID, ChunkIndex: 0, Content: "exact", Embedding: []float32{1, 0, 0}},
		{DocumentID: textDoc.ID, ChunkIndex: 1, Content: "close", Embedding: []float32{0.9, 0.1, 0}},
		{DocumentID: textDoc.ID, ChunkIndex: 2, Content: "orthogonal", Embedding: []float32{0, 1, 0}},
		{DocumentID: textDoc.ID, ChunkIndex: 3, Content: "unembedded"},
		{DocumentID: imageDoc.ID, ChunkIndex: 0, Content: "image", Embedding: []float32{1, 0.05, 0}},
	}
	for _, c := range chunks {
		if err := store.CreateChunk(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	stored, err := store.GetChunksByDocumentID(ctx, textDoc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 || stored[1].Content != "close" || len(stored[0].Embedding) != 3 {
		t.Fatalf("stored chunks = %+v", stored)
	}

	p := &models.SimilarityParams{UserID: user.ID, Embedding: []float32{1, 0, 0}, Threshold: 0.5, Limit: 10}
	hits, err := store.SearchChunksBasic(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits above threshold, got %d", len(hits))
	}
	if hits[0].Content != "exact" {
		t.Errorf("first hit = %q", hits[0].Content)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("hits not ordered by similarity: %v then %v", hits[i-1].Similarity, hits[i].Similarity)
		}
	}

	p.ContentType = models.CategoryImage
	hits, err = store.SearchChunksFiltered(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Content != "image" || hits[0].ContentType != models.CategoryImage {
		t.Errorf("filtered hits = %+v", hits)
	}

	p.ContentType = ""
	p.Tags = []string{"invoice"}
	hits, _ = store.SearchChunksFiltered(ctx, p)
	if len(hits) != 0 {
		t.Errorf("expected no hits before tagging, got %d", len(hits))
	}
	if err := store.SetAutoTags(ctx, imageDoc.ID, []string{"invoice", "receipt"}); err != nil {
		t.Fatal(err)
	}
	hits, _ = store.SearchChunksFiltered(ctx, p)
	if len(hits) != 1 || hits[0].DocumentID != imageDoc.ID {
		t.Errorf("tag filtered hits = %+v", hits)
	}

	p.Tags = nil
	p.Limit = 1
	hits, _ = store.SearchChunksBasic(ctx, p)
	if len(hits) != 1 {
		t.Errorf("limit not applied: %d", len(hits))
	}

	other := &models.SimilarityParams{UserID: "other", Embedding: []float32{1, 0, 0}, Limit: 10}
	if hits, _ := store.SearchChunksBasic(ctx, other); len(hits) != 0 {
		t.Errorf("chunks leaked across users: %d", len(hits))
	}

	byID, err := store.GetChunkHits(ctx, user.ID, []string{chunks[0].ID, chunks[4].ID, "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 || byID[chunks[4].ID].FileName != "notes.txt" {
		t.Errorf("GetChunkHits = %+v", byID)
	}

	n, _ := store.CountChunks(ctx)
	if n != 5 {
		t.Errorf("CountChunks = %d", n)
	}
}

func TestSQLiteStorage_DocumentTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, _ := store.GetOrCreateUser(ctx, "s")
	doc := newTestDocument(t, store, user.ID, models.CategoryText)

	tag, err := store.GetOrCreateTag(ctx, "  Invoice ", "content")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := store.GetOrCreateTag(ctx, "invoice", "")
	if tag.ID != again.ID || tag.Name != "invoice" {
		t.Errorf("tags not case-folded: %+v %+v", tag, again)
	}

	dt, err := store.UpsertDocumentTag(ctx, &models.DocumentTag{DocumentID: doc.ID, TagID: tag.ID, Confidence: 0.4, Source: models.TagSourceAI})
	if err != nil {
		t.Fatal(err)
	}
	if dt.Confidence != 0.4 || dt.TagName != "invoice" {
		t.Errorf("first upsert = %+v", dt)
	}
	dt, _ = store.UpsertDocumentTag(ctx, &models.DocumentTag{DocumentID: doc.ID, TagID: tag.ID, Confidence: 0.9, Source: models.TagSourceVision})
	if dt.Confidence != 0.9 || dt.Source != models.TagSourceVision {
		t.Errorf("higher confidence should win: %+v", dt)
	}
	dt, _ = store.UpsertDocumentTag(ctx, &models.DocumentTag{DocumentID: doc.ID, TagID: tag.ID, Confidence: 0.2, Source: models.TagSourceOCR})
	if dt.Confidence != 0.9 || dt.Source != models.TagSourceVision {
		t.Errorf("lower confidence should not downgrade: %+v", dt)
	}
	if _, err := store.UpsertDocumentTag(ctx, &models.DocumentTag{DocumentID: doc.ID, TagID: tag.ID, Source: "robot"}); !models.IsValidation(err) {
		t.Errorf("unknown source: %v", err)
	}

	tags, err := store.ListDocumentTags(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 {
		t.Errorf("expected one link, got %d", len(tags))
	}
}

func TestSQLiteStorage_SearchProvenance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, _ := store.GetOrCreateUser(ctx, "s")
	doc := newTestDocument(t, store, user.ID, models.CategoryText)
	chunk := &models.DocumentChunk{DocumentID: doc.ID, Content: "c", Embedding: []float32{1, 0}}
	_ = store.CreateChunk(ctx, chunk)

	q := &models.SearchQuery{
		UserID:              user.ID,
		QueryText:           "hello",
		QueryEmbedding:      []float32{1, 0},
		SearchType:          models.SearchTypeSemantic,
		SimilarityThreshold: 0.7,
		MaxResults:          10,
		TagFilter:           []string{"a"},
	}
	if err := store.CreateSearchQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateSearchQueryStats(ctx, q.ID, 1, 42); err != nil {
		t.Fatal(err)
	}
	results := []*models.SearchResult{{SearchQueryID: q.ID, ChunkID: chunk.ID, SimilarityScore: 1, RankPosition: 1}}
	if err := store.CreateSearchResults(ctx, results); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSearchQuery(ctx, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ResultsCount != 1 || got.ResponseTimeMs != 42 || len(got.QueryEmbedding) != 2 || got.TagFilter[0] != "a" {
		t.Errorf("query = %+v", got)
	}
	rows, _ := store.ListSearchResults(ctx, q.ID)
	if len(rows) != 1 || rows[0].RankPosition != 1 {
		t.Errorf("results = %+v", rows)
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	rows, _ = store.ListSearchResults(ctx, q.ID)
	if len(rows) != 0 {
		t.Errorf("result rows should be removed with their chunk, got %d", len(rows))
	}
}

func TestSQLiteStorage_Conversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := &models.Conversation{UserID: "u", Title: "first question"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*models.Message{
		{ConversationID: conv.ID, Role: models.RoleUser, Content: "q"},
		{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "a", Metadata: map[string]interface{}{"confidence": 0.8}},
	} {
		if err := store.AddMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Metadata["confidence"] != 0.8 {
		t.Errorf("messages = %+v", msgs)
	}
	if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	u, _ := store.GetOrCreateUser(ctx, "mem")
	newTestDocument(t, store, u.ID, models.CategoryText)
	n, err := store.CountDocuments(ctx, u.ID)
	if err != nil || n != 1 {
		t.Errorf("CountDocuments = %d, %v", n, err)
	}
}
