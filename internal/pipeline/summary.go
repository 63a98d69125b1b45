package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/llm"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/pkg/utils"
)

const (
	summaryInputChars = 8000
	maxKeyTopics      = 8
)

// Summary is the structured document summary returned by the completion capability.
type Summary struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

const summaryPrompt = `Summarize the document below. Respond with ONE JSON object and nothing else:
{"title": "short descriptive title", "summary": "two or three sentences", "key_topics": ["topic", "..."]}

Document:
%s`

func validateSummary(s *Summary) error {
	s.Title = strings.TrimSpace(s.Title)
	s.Summary = strings.TrimSpace(s.Summary)
	if s.Title == "" && s.Summary == "" {
		return errors.New("summary has neither title nor summary")
	}
	topics := s.KeyTopics[:0]
	for _, t := range s.KeyTopics {
		if t = strings.TrimSpace(t); t != "" && len(topics) < maxKeyTopics {
			topics = append(topics, t)
		}
	}
	s.KeyTopics = topics
	return nil
}

// Summarize asks c for a structured summary of text.
func Summarize(ctx context.Context, c llm.Completer, text string) (*Summary, error) {
	prompt := fmt.Sprintf(summaryPrompt, utils.Truncate(text, summaryInputChars))
	return llm.CompleteStructured[Summary](ctx, c, prompt, validateSummary)
}

// summarize applies a document summary to update. Failure is recorded in the processing
// metadata and does not fail the document.
func (p *Pipeline) summarize(ctx context.Context, docID, text string, update *models.ContentUpdate) {
	s, err := Summarize(ctx, p.completer, text)
	if err != nil {
		p.logger.Warn("Document summary failed", zap.String("doc_id", docID), zap.Error(err))
		update.ProcessingMetadata = models.MergeMetadata(update.ProcessingMetadata, map[string]interface{}{
			"summary_error": err.Error(),
		})
		return
	}
	if s.Title != "" {
		update.Title = s.Title
	}
	if s.Summary != "" {
		update.Description = s.Summary
	}
	update.ProcessingMetadata = models.MergeMetadata(update.ProcessingMetadata, map[string]interface{}{
		"summary":    s.Summary,
		"key_topics": s.KeyTopics,
	})
}
