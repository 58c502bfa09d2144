package recommend

import (
	"context"
	"log/slog"

	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/store"
)

// overFetchMultipliers are the k/limit ratios of successive index queries.
// The first query over-fetches 3x; at most two wider retries follow.
var overFetchMultipliers = []int{3, 6, 12}

// validateFunc re-checks a page of matches against live state and returns the survivors.
type validateFunc[T any] func(ctx context.Context, matches []vector.Match) ([]Candidate[T], error)

// retrieve queries the index until limit candidates survive validation or the index
// runs dry, issuing at most len(overFetchMultipliers) queries. A failure on the first
// query is returned; a failure on a retry keeps what earlier rounds produced.
func retrieve[T any](ctx context.Context, vectors VectorStore, entityType store.EntityType, query []float32, limit int, filter *vector.Filter, validate validateFunc[T]) ([]Candidate[T], error) {
	var accepted []Candidate[T]
	seen := make(map[int32]struct{})

	for round, multiplier := range overFetchMultipliers {
		k := limit * multiplier
		matches, err := vectors.QuerySimilar(ctx, entityType, query, k, filter)
		if err != nil {
			if round == 0 {
				return nil, err
			}
			slog.Warn("over-fetch retry failed, returning partial candidates",
				"entity_type", entityType,
				"round", round,
				"candidates", len(accepted),
				"error", err,
			)
			return accepted, nil
		}

		fresh := make([]vector.Match, 0, len(matches))
		for _, match := range matches {
			if _, ok := seen[match.ID]; ok {
				continue
			}
			seen[match.ID] = struct{}{}
			fresh = append(fresh, match)
		}
		if len(fresh) > 0 {
			valid, err := validate(ctx, fresh)
			if err != nil {
				if round == 0 {
					return nil, err
				}
				return accepted, nil
			}
			accepted = append(accepted, valid...)
		}

		if len(accepted) >= limit || len(matches) < k {
			break
		}
	}
	return accepted, nil
}
