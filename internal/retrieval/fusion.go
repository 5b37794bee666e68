package retrieval

import (
	"sort"

	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/models"
)

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse re-ranks semantic hits with keyword evidence. Each hit keeps its semantic score and
// gains Score = (1-keywordWeight)*semantic + keywordWeight*keyword. Only semantic hits are
// ranked, so keyword matches alone never enter the result. Ranks are reassigned from 1.
func Fuse(hits []*models.ScoredArticle, keywordScores map[string]float64, keywordWeight float64) []*models.ScoredArticle {
	if keywordWeight < 0 {
		keywordWeight = 0
	}
	if keywordWeight > 1 {
		keywordWeight = 1
	}
	out := make([]*models.ScoredArticle, 0, len(hits))
	for _, h := range hits {
		fused := *h
		fused.KeywordScore = keywordScores[h.Article.ID]
		fused.Score = (1-keywordWeight)*h.SemanticScore + keywordWeight*fused.KeywordScore
		out = append(out, &fused)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Article.ID < out[j].Article.ID
	})
	for i, h := range out {
		h.Rank = i + 1
	}
	return out
}

// AboveFloor returns the hits whose semantic score reaches floor, and the best semantic
// score seen overall.
func AboveFloor(hits []*models.ScoredArticle, floor float64) ([]*models.ScoredArticle, float64) {
	best := 0.0
	kept := make([]*models.ScoredArticle, 0, len(hits))
	for i, h := range hits {
		if i == 0 || h.SemanticScore > best {
			best = h.SemanticScore
		}
		if h.SemanticScore >= floor {
			kept = append(kept, h)
		}
	}
	return kept, best
}
