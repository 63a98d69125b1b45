// Package llm is a client for OpenAI-compatible chat completion APIs: plain and vision
// completions plus schema-driven parsing of JSON embedded in model output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	maxRetryAfter   = 30 * time.Second
	maxErrorBodyLen = 512
)

// APIError is a non-retryable error response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}

// Transport posts JSON to an OpenAI-compatible endpoint, retrying network errors, 429 and
// 5xx responses with exponential backoff. Retry-After is honored when present.
type Transport struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
	// Backoff returns the delay before retry attempt n (0-based). Nil uses RetryDelay.
	Backoff func(attempt int) time.Duration
	Logger  *zap.Logger
}

// NewTransport returns a Transport with defaults applied.
func NewTransport(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		MaxRetries: maxRetries,
		Logger:     logger,
	}
}

// PostJSON sends in as JSON to BaseURL+path and decodes the response into out.
func (t *Transport) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	url := t.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, t.delay(attempt-1, lastErr)); err != nil {
				return err
			}
		}
		payload, retryable, err := t.do(ctx, url, data)
		if err == nil {
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			return nil
		}
		if !retryable || ctx.Err() != nil {
			return err
		}
		lastErr = err
		t.Logger.Debug("retrying request", zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("request failed after %d attempts: %w", t.MaxRetries+1, lastErr)
}

type retryAfterError struct {
	status int
	wait   time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("api returned status %d", e.status)
}

func (t *Transport) do(ctx context.Context, url string, data []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, &retryAfterError{status: resp.StatusCode, wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen]
		}
		return nil, false, &APIError{StatusCode: resp.StatusCode, Body: msg}
	}
	return body, false, nil
}

func (t *Transport) delay(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.wait > 0 {
		return ra.wait
	}
	if t.Backoff != nil {
		return t.Backoff(attempt)
	}
	return RetryDelay(attempt)
}

// RetryDelay is exponential backoff from 200ms capped at 5s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
