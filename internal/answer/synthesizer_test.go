package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/docsight/internal/llm"
	"github.com/hyperjump/docsight/internal/models"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

func testHits() []*models.SearchHit {
	return []*models.SearchHit{
		{Rank: 1, ChunkHit: models.ChunkHit{ChunkID: "c1", FileName: "a.txt", Content: "Paris is the capital of France."}},
		{Rank: 2, ChunkHit: models.ChunkHit{ChunkID: "c2", FileName: "b.txt", Content: "France borders Spain."}},
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext(testHits())
	for _, want := range []string{"[1] (a.txt)\nParis", "[2] (b.txt)\nFrance borders"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
	if BuildContext(nil) == "" {
		t.Error("empty results should still produce a context line")
	}
}

func TestSynthesizer_Answer(t *testing.T) {
	fc := &fakeCompleter{reply: "Here you go:\n```json\n" +
		`{"answer": "Paris.", "confidence": 0.92, "sources": [1], "follow_up_questions": ["What about Spain?"]}` +
		"\n```"}
	s := NewSynthesizer(fc)

	a, err := s.Answer(context.Background(), "What is the capital of France?", testHits())
	if err != nil {
		t.Fatal(err)
	}
	if a.Answer != "Paris." || a.Confidence != 0.92 {
		t.Errorf("got %+v", a)
	}
	if len(a.SourceChunkIDs) != 1 || a.SourceChunkIDs[0] != "c1" {
		t.Errorf("source chunk ids = %v", a.SourceChunkIDs)
	}
	if !strings.Contains(fc.prompt, "Question: What is the capital of France?") {
		t.Errorf("prompt missing question:\n%s", fc.prompt)
	}
}

func TestSynthesizer_Answer_coercion(t *testing.T) {
	fc := &fakeCompleter{reply: `{"answer": " yes ", "confidence": 1.7,
		"sources": [2, 2, 0, 5, 1],
		"follow_up_questions": ["a", "", "b", "c", "d"]}`}
	a, err := NewSynthesizer(fc).Answer(context.Background(), "q", testHits())
	if err != nil {
		t.Fatal(err)
	}
	if a.Answer != "yes" {
		t.Errorf("answer = %q", a.Answer)
	}
	if a.Confidence != 1 {
		t.Errorf("confidence = %f, want clamped to 1", a.Confidence)
	}
	if len(a.Sources) != 2 || a.Sources[0] != 2 || a.Sources[1] != 1 {
		t.Errorf("sources = %v, want [2 1]", a.Sources)
	}
	if len(a.FollowUpQuestions) != MaxFollowUps {
		t.Errorf("follow-ups = %v", a.FollowUpQuestions)
	}
}

func TestSynthesizer_Answer_errors(t *testing.T) {
	tests := []struct {
		name     string
		fc       *fakeCompleter
		question string
		want     error
	}{
		{"completion fails", &fakeCompleter{err: errors.New("rate limited")}, "q", nil},
		{"no json", &fakeCompleter{reply: "I think it is Paris."}, "q", llm.ErrNoJSONObject},
		{"empty answer", &fakeCompleter{reply: `{"answer": "", "confidence": 0.5}`}, "q", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewSynthesizer(tt.fc).Answer(context.Background(), tt.question, testHits())
			if err == nil || a != nil {
				t.Fatalf("expected error, got %+v", a)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSynthesizer_Answer_emptyQuestion(t *testing.T) {
	fc := &fakeCompleter{}
	_, err := NewSynthesizer(fc).Answer(context.Background(), "   ", testHits())
	if !models.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if fc.calls != 0 {
		t.Error("completer should not be called for an empty question")
	}
}
