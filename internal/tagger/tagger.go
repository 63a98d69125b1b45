// Package tagger derives document tags from extraction output and merges them into storage.
package tagger

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/extract"
	"github.com/hyperjump/docsight/internal/models"
)

// Per-event caps on derived tags.
const (
	MaxVisionTags   = 20
	MaxCategoryTags = 5
)

// CategoryTagCategory is the tag category assigned to vision categories.
const CategoryTagCategory = "category"

// Candidate is a tag reading before it is stored.
type Candidate struct {
	Name       string
	Category   string
	Confidence float64
	Source     models.TagSource
}

// Store is the subset of storage the tagger needs.
type Store interface {
	GetOrCreateTag(ctx context.Context, name, category string) (*models.Tag, error)
	UpsertDocumentTag(ctx context.Context, dt *models.DocumentTag) (*models.DocumentTag, error)
	ListDocumentTags(ctx context.Context, docID string) ([]*models.DocumentTag, error)
	SetAutoTags(ctx context.Context, id string, tags []string) error
}

// Tagger merges tag candidates into a document's tag set.
type Tagger struct {
	store  Store
	logger *zap.Logger
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithLogger sets the logger for the tagger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tagger) {
		t.logger = l
	}
}

// New returns a Tagger over store.
func New(store Store, opts ...Option) *Tagger {
	t := &Tagger{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// DeriveTags returns the tag candidates of a vision analysis: up to MaxVisionTags from tags,
// objects, scene, mood and activities with source vision, plus up to MaxCategoryTags
// categories with source ai. Names are case-folded and trimmed; names of one rune or less and
// duplicates are dropped.
func DeriveTags(a *extract.VisionAnalysis) []Candidate {
	if a == nil {
		return nil
	}
	conf := clamp01(a.Confidence)
	seen := make(map[string]bool)
	var out []Candidate

	visionCount := 0
	addVision := func(name, category string) {
		if visionCount >= MaxVisionTags {
			return
		}
		if n, ok := acceptName(name, seen); ok {
			out = append(out, Candidate{Name: n, Category: category, Confidence: conf, Source: models.TagSourceVision})
			visionCount++
		}
	}
	for _, tag := range a.Tags {
		addVision(tag, "")
	}
	for _, obj := range a.Objects {
		addVision(obj, "object")
	}
	addVision(a.SceneType, "scene")
	addVision(a.Mood, "mood")
	for _, act := range a.Activities {
		addVision(act, "activity")
	}

	categoryCount := 0
	for _, cat := range a.Categories {
		if categoryCount >= MaxCategoryTags {
			break
		}
		if n, ok := acceptName(cat, seen); ok {
			out = append(out, Candidate{Name: n, Category: CategoryTagCategory, Confidence: conf, Source: models.TagSourceAI})
			categoryCount++
		}
	}
	return out
}

func acceptName(name string, seen map[string]bool) (string, bool) {
	n := models.NormalizeTagName(name)
	if utf8.RuneCountInString(n) <= 1 || seen[n] {
		return "", false
	}
	seen[n] = true
	return n, true
}

// Merge get-or-creates each candidate's tag and upserts the document link, keeping the higher
// confidence. It then recomputes the document's auto_tags. Merging the same candidate twice is
// a no-op.
func (t *Tagger) Merge(ctx context.Context, docID string, candidates []Candidate) ([]*models.DocumentTag, error) {
	resolved := make([]*models.DocumentTag, 0, len(candidates))
	for _, c := range candidates {
		name := models.NormalizeTagName(c.Name)
		if utf8.RuneCountInString(name) <= 1 {
			continue
		}
		tag, err := t.store.GetOrCreateTag(ctx, name, c.Category)
		if err != nil {
			return resolved, fmt.Errorf("failed to get or create tag %q: %w", name, err)
		}
		dt, err := t.store.UpsertDocumentTag(ctx, &models.DocumentTag{
			DocumentID: docID,
			TagID:      tag.ID,
			TagName:    tag.Name,
			Confidence: clamp01(c.Confidence),
			Source:     c.Source,
		})
		if err != nil {
			return resolved, fmt.Errorf("failed to upsert tag %q: %w", name, err)
		}
		resolved = append(resolved, dt)
	}
	if _, err := t.RecomputeAutoTags(ctx, docID); err != nil {
		return resolved, err
	}
	t.logger.Debug("Merged tags", zap.String("doc_id", docID), zap.Int("count", len(resolved)))
	return resolved, nil
}

// RecomputeAutoTags rewrites the document's auto_tags from its stored tags and returns them.
func (t *Tagger) RecomputeAutoTags(ctx context.Context, docID string) ([]string, error) {
	tags, err := t.store.ListDocumentTags(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document tags: %w", err)
	}
	auto := AutoTags(tags)
	if err := t.store.SetAutoTags(ctx, docID, auto); err != nil {
		return nil, fmt.Errorf("failed to set auto tags: %w", err)
	}
	return auto, nil
}

// AutoTags returns tag names with confidence >= models.AutoTagMinConfidence ordered by
// confidence desc, then name.
func AutoTags(tags []*models.DocumentTag) []string {
	kept := make([]*models.DocumentTag, 0, len(tags))
	for _, dt := range tags {
		if dt.Confidence >= models.AutoTagMinConfidence {
			kept = append(kept, dt)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].TagName < kept[j].TagName
	})
	names := make([]string, len(kept))
	for i, dt := range kept {
		names[i] = dt.TagName
	}
	return names
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
