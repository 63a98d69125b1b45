package answer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/storage"
)

type fakeSearcher struct {
	resp *models.SearchResponse
	err  error
	last *models.SearchRequest
}

func (f *fakeSearcher) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

const chatReply = `{"answer": "Paris.", "confidence": 0.8, "sources": [1], "follow_up_questions": []}`

func newChat(t *testing.T, fc *fakeCompleter, fs *fakeSearcher) (*ChatService, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if fs.resp == nil && fs.err == nil {
		fs.resp = &models.SearchResponse{QueryID: "q1", Results: testHits(), Total: 2}
	}
	return NewChatService(store, fs, NewSynthesizer(fc)), store
}

func TestChatService_Send_createsConversation(t *testing.T) {
	ctx := context.Background()
	fs := &fakeSearcher{}
	chat, store := newChat(t, &fakeCompleter{reply: chatReply}, fs)

	resp, err := chat.Send(ctx, ChatRequest{SessionID: "s1", Message: "What is the capital of France?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Conversation.Title != "What is the capital of France?" {
		t.Errorf("title = %q", resp.Conversation.Title)
	}
	if fs.last.Query != "What is the capital of France?" || fs.last.UserID == "" {
		t.Errorf("search request = %+v", fs.last)
	}

	msgs, err := store.ListMessages(ctx, resp.Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[1].Content != "Paris." || msgs[1].Metadata["search_query_id"] != "q1" {
		t.Errorf("assistant message = %+v", msgs[1])
	}

	// Second turn appends to the same conversation.
	if _, err := chat.Send(ctx, ChatRequest{SessionID: "s1", ConversationID: resp.Conversation.ID, Message: "And Spain?"}); err != nil {
		t.Fatal(err)
	}
	msgs, err = chat.Messages(ctx, "s1", resp.Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Errorf("expected 4 messages, got %d", len(msgs))
	}
}

func TestChatService_Send_otherSessionNotFound(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t, &fakeCompleter{reply: chatReply}, &fakeSearcher{})

	resp, err := chat.Send(ctx, ChatRequest{SessionID: "owner", Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = chat.Send(ctx, ChatRequest{SessionID: "intruder", ConversationID: resp.Conversation.ID, Message: "hi"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := chat.Messages(ctx, "intruder", resp.Conversation.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound listing messages, got %v", err)
	}
}

func TestChatService_Send_synthesisFailure(t *testing.T) {
	ctx := context.Background()
	upstream := errors.New("upstream down")
	chat, _ := newChat(t, &fakeCompleter{err: upstream}, &fakeSearcher{})

	resp, err := chat.Send(ctx, ChatRequest{SessionID: "s1", Message: "question"})
	if !errors.Is(err, upstream) || resp != nil {
		t.Fatalf("expected upstream error and no response, got %v, %+v", err, resp)
	}
}

func TestChatService_Send_emptyMessage(t *testing.T) {
	chat, _ := newChat(t, &fakeCompleter{reply: chatReply}, &fakeSearcher{})
	_, err := chat.Send(context.Background(), ChatRequest{SessionID: "s1", Message: " "})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestChatService_Ask(t *testing.T) {
	fs := &fakeSearcher{}
	chat, _ := newChat(t, &fakeCompleter{reply: chatReply}, fs)

	resp, err := chat.Ask(context.Background(), AskRequest{
		SessionID: "s1",
		Search:    models.SearchRequest{Query: "capital of France", SearchType: models.SearchTypeSemantic},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer.Answer != "Paris." || resp.Search.QueryID != "q1" {
		t.Errorf("got %+v", resp)
	}
	if fs.last.UserID == "" {
		t.Error("ask should resolve the session to a user id")
	}
}

func TestChatService_Ask_searchError(t *testing.T) {
	boom := errors.New("search unavailable")
	chat, _ := newChat(t, &fakeCompleter{reply: chatReply}, &fakeSearcher{err: boom})
	_, err := chat.Ask(context.Background(), AskRequest{SessionID: "s1", Search: models.SearchRequest{Query: "q"}})
	if !errors.Is(err, boom) {
		t.Errorf("expected search error, got %v", err)
	}
}
