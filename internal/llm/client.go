package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Completer returns a model's text response to a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VisionAnalyzer returns a vision model's text response about the image at imageURL.
// imageURL may be an http(s) URL or a data: URL.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, imageURL, prompt string) (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
}

// Client calls the /chat/completions endpoint. It implements Completer and VisionAnalyzer.
type Client struct {
	transport   *Transport
	model       string
	visionModel string
	temperature float64
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a chat completion client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		temperature: cfg.Temperature,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		c.model = "gpt-4o-mini"
	}
	if c.visionModel == "" {
		c.visionModel = c.model
	}
	c.transport = NewTransport(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.MaxRetries, c.logger)
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, c.model, chatMessage{Role: "user", Content: prompt})
}

// Analyze sends the prompt together with the image reference.
func (c *Client) Analyze(ctx context.Context, imageRef, prompt string) (string, error) {
	if imageRef == "" {
		return "", errors.New("image url is empty")
	}
	return c.chat(ctx, c.visionModel, chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: imageRef}},
		},
	})
}

func (c *Client) chat(ctx context.Context, model string, msgs ...chatMessage) (string, error) {
	req := chatRequest{Model: model, Messages: msgs, Temperature: c.temperature}
	var resp chatResponse
	start := time.Now()
	if err := c.transport.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completion failed: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	c.logger.Debug("chat completion", zap.String("model", model), zap.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

var (
	_ Completer      = (*Client)(nil)
	_ VisionAnalyzer = (*Client)(nil)
)
