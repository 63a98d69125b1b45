package search

import (
	"sort"

	"github.com/hyperjump/docsight/internal/keyword"
	"github.com/hyperjump/docsight/internal/models"
)

// FusedResult is a chunk scored by both retrieval paths.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores maps chunk ID to score/max so the best keyword hit scores 1.0.
func NormalizeKeywordScores(results []*keyword.Result) map[string]float64 {
	m := make(map[string]float64, len(results))
	if len(results) == 0 {
		return m
	}
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			m[r.ChunkID] = r.Score / maxScore
		} else {
			m[r.ChunkID] = 0
		}
	}
	return m
}

// NormalizeSemanticScores maps chunk ID to cosine similarity, clamped to [0,1].
func NormalizeSemanticScores(hits []*models.ChunkHit) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		s := h.Similarity
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		m[h.ChunkID] = s
	}
	return m
}

// Fuse combines keyword and semantic scores by weighted sum. A chunk found by one path only
// scores 0 on the other. Results are sorted by score desc, then chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	ids := make(map[string]struct{}, len(keywordScores)+len(semanticScores))
	for id := range keywordScores {
		ids[id] = struct{}{}
	}
	for id := range semanticScores {
		ids[id] = struct{}{}
	}
	out := make([]*FusedResult, 0, len(ids))
	for id := range ids {
		kw := keywordScores[id]
		sem := semanticScores[id]
		out = append(out, &FusedResult{
			ChunkID:       id,
			Score:         keywordWeight*kw + semanticWeight*sem,
			KeywordScore:  kw,
			SemanticScore: sem,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
