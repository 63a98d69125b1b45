// Package answer synthesizes grounded answers from search results and runs chat
// conversations on top of search.
package answer

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

// MaxFollowUps is the number of follow-up questions kept from a reply.
const MaxFollowUps = 3

// contextChunkChars bounds each chunk's share of the prompt.
const contextChunkChars = 2000

// Answer is a synthesized answer. Sources are 1-based positions in the results the answer
// was built from.
type Answer struct {
	Answer            string   `json:"answer"`
	Confidence        float64  `json:"confidence"`
	Sources           []int    `json:"sources"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	// SourceChunkIDs resolves Sources to chunk IDs, in the same order.
	SourceChunkIDs []string `json:"source_chunk_ids"`
}

const answerPrompt = `You answer questions using only the numbered context passages below.
If the context does not contain the answer, say so and give a low confidence.
Respond with ONE JSON object and nothing else:
{"answer": "the answer", "confidence": 0.0, "sources": [1], "follow_up_questions": ["..."]}

"sources" lists the numbers of the passages you used. "confidence" is between 0 and 1.
Give at most 3 follow-up questions.

Context:
%s

Question: %s`

// Synthesizer turns a question and its search results into an Answer.
type Synthesizer struct {
	completer llm.Completer
	logger    *zap.Logger
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithSynthesizerLogger sets the synthesizer logger.
func WithSynthesizerLogger(l *zap.Logger) SynthesizerOption {
	return func(s *Synthesizer) { s.logger = l }
}

// NewSynthesizer creates a synthesizer backed by c.
func NewSynthesizer(c llm.Completer, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{completer: c}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.LoggerOrNop(s.logger)
	return s
}

// BuildContext numbers each hit's text from 1, in order.
func BuildContext(hits []*models.SearchHit) string {
	if len(hits) == 0 {
		return "(no relevant passages were found)"
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s", i+1, h.FileName, utils.Truncate(h.Content, contextChunkChars))
	}
	return b.String()
}

// Answer asks the completion capability to answer question from hits. A failed call or an
// unusable reply is returned as an error.
func (s *Synthesizer) Answer(ctx context.Context, question string, hits []*models.SearchHit) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.NewValidationError("question", "question cannot be empty")
	}
	prompt := fmt.Sprintf(answerPrompt, BuildContext(hits), question)
	a, err := llm.CompleteStructured[Answer](ctx, s.completer, prompt, func(a *Answer) error {
		return coerce(a, len(hits))
	})
	if err != nil {
		s.logger.Warn("Answer synthesis failed", zap.Int("results", len(hits)), zap.Error(err))
		return nil, fmt.Errorf("failed to synthesize answer: %w", err)
	}
	a.SourceChunkIDs = make([]string, len(a.Sources))
	for i, n := range a.Sources {
		a.SourceChunkIDs[i] = hits[n-1].ChunkID
	}
	return a, nil
}

// coerce normalizes a reply against n results: confidence is clamped to [0,1], sources
// outside 1..n and duplicates are dropped, and follow-ups are trimmed to MaxFollowUps.
func coerce(a *Answer, n int) error {
	a.Answer = strings.TrimSpace(a.Answer)
	if a.Answer == "" {
		return errors.New("answer is empty")
	}
	switch {
	case a.Confidence < 0:
		a.Confidence = 0
	case a.Confidence > 1:
		a.Confidence = 1
	}

	seen := make(map[int]bool, len(a.Sources))
	sources := make([]int, 0, len(a.Sources))
	for _, src := range a.Sources {
		if src < 1 || src > n || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	a.Sources = sources

	followUps := make([]string, 0, MaxFollowUps)
	for _, q := range a.FollowUpQuestions {
		if q = strings.TrimSpace(q); q != "" && len(followUps) < MaxFollowUps {
			followUps = append(followUps, q)
		}
	}
	a.FollowUpQuestions = followUps
	return nil
}
