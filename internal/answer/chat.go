package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/pkg/utils"
)

// conversationTitleChars bounds a conversation title taken from its first message.
const conversationTitleChars = 60

// Searcher runs a search for a user.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

// Store is the persistence the chat service needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, sessionID string) (*models.User, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// AskRequest is a one-shot question answered from the session's documents.
type AskRequest struct {
	SessionID string
	Search    models.SearchRequest
}

// AskResponse pairs an answer with the search it was built from.
type AskResponse struct {
	Answer *Answer                `json:"answer"`
	Search *models.SearchResponse `json:"search"`
}

// ChatRequest is one user turn. An empty ConversationID starts a new conversation.
type ChatRequest struct {
	SessionID      string
	ConversationID string
	Message        string
	// Search carries the search options; its Query and UserID are filled from the message.
	Search models.SearchRequest
}

// ChatResponse is the outcome of one turn.
type ChatResponse struct {
	Conversation     *models.Conversation   `json:"conversation"`
	UserMessage      *models.Message        `json:"user_message"`
	AssistantMessage *models.Message        `json:"assistant_message"`
	Answer           *Answer                `json:"answer"`
	Search           *models.SearchResponse `json:"search"`
}

// ChatService answers questions and keeps conversation history.
type ChatService struct {
	store       Store
	searcher    Searcher
	synthesizer *Synthesizer
	logger      *zap.Logger
}

// ChatOption configures a ChatService.
type ChatOption func(*ChatService)

// WithLogger sets the chat service logger.
func WithLogger(l *zap.Logger) ChatOption {
	return func(c *ChatService) { c.logger = l }
}

// NewChatService creates a chat service.
func NewChatService(store Store, searcher Searcher, synthesizer *Synthesizer, opts ...ChatOption) *ChatService {
	c := &ChatService{store: store, searcher: searcher, synthesizer: synthesizer}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.LoggerOrNop(c.logger)
	return c
}

// Ask searches the session's documents and synthesizes an answer from the results.
func (c *ChatService) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	user, err := c.store.GetOrCreateUser(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	sreq := req.Search
	sreq.UserID = user.ID
	resp, err := c.searcher.Search(ctx, &sreq)
	if err != nil {
		return nil, err
	}
	a, err := c.synthesizer.Answer(ctx, sreq.Query, resp.Results)
	if err != nil {
		return nil, err
	}
	return &AskResponse{Answer: a, Search: resp}, nil
}

// Send records the user's message, answers it from search results, and records the reply.
// When search or synthesis fails the user message stays recorded and no reply is stored.
func (c *ChatService) Send(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, models.NewValidationError("message", "message cannot be empty")
	}
	user, err := c.store.GetOrCreateUser(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	conv, err := c.conversation(ctx, user.ID, req.ConversationID, text)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: text}
	if err := c.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	sreq := req.Search
	sreq.Query = text
	sreq.UserID = user.ID
	resp, err := c.searcher.Search(ctx, &sreq)
	if err != nil {
		return nil, err
	}
	a, err := c.synthesizer.Answer(ctx, text, resp.Results)
	if err != nil {
		return nil, err
	}

	assistantMsg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        a.Answer,
		Metadata: map[string]interface{}{
			"confidence":          a.Confidence,
			"sources":             a.Sources,
			"source_chunk_ids":    a.SourceChunkIDs,
			"follow_up_questions": a.FollowUpQuestions,
			"search_query_id":     resp.QueryID,
		},
	}
	if err := c.store.AddMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	c.logger.Debug("Chat turn completed",
		zap.String("conversation_id", conv.ID),
		zap.Int("results", resp.Total),
		zap.Float64("confidence", a.Confidence))

	return &ChatResponse{
		Conversation:     conv,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Answer:           a,
		Search:           resp,
	}, nil
}

// Messages returns a conversation's history if it belongs to the session.
func (c *ChatService) Messages(ctx context.Context, sessionID, conversationID string) ([]*models.Message, error) {
	user, err := c.store.GetOrCreateUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := c.owned(ctx, user.ID, conversationID); err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, conversationID)
}

// conversation loads an existing conversation or creates one titled from firstMessage.
func (c *ChatService) conversation(ctx context.Context, userID, id, firstMessage string) (*models.Conversation, error) {
	if id != "" {
		return c.owned(ctx, userID, id)
	}
	conv := &models.Conversation{UserID: userID, Title: utils.Truncate(firstMessage, conversationTitleChars)}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// owned returns the conversation, reporting another user's conversation as not found.
func (c *ChatService) owned(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return conv, nil
}
