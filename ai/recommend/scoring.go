package recommend

import (
	"cmp"
	"slices"
)

// Similarity converts a cosine distance in [0, 2] into a score in [0, 1].
func Similarity(distance float32) float64 {
	score := 1 - float64(distance)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// rank scores candidates, orders them by score desc then id asc, and truncates to limit.
func rank[T any](candidates []Candidate[T], limit int) []Candidate[T] {
	for i := range candidates {
		candidates[i].SimilarityScore = Similarity(candidates[i].RawDistance)
	}
	slices.SortStableFunc(candidates, func(a, b Candidate[T]) int {
		if c := cmp.Compare(b.SimilarityScore, a.SimilarityScore); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	if limit >= 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, MaxLimit)
}
