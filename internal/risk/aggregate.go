package risk

import "sort"

// IsIdle reports whether an allocation leg carries no active capital: its USD
// allocation is under the configured epsilon and it supplied no tokens. Idle
// legs are listed but never scored or weighted.
func (c Config) IsIdle(leg Allocation) bool {
	return leg.AmountUSD < c.IdleAllocationUSD && leg.AmountTokens <= 0
}

type weightedEntry struct {
	score  float64
	weight float64
	idle   bool
}

// weightedAggregate reduces child scores to Σ(score × USD) / Σ(USD) over
// non-idle children with positive allocation. No allocated children is a
// defined floor (score 0, grade F), not an error.
func weightedAggregate(entries []weightedEntry) (float64, Grade) {
	var sum, weights float64
	for _, e := range entries {
		if e.idle || e.weight <= 0 {
			continue
		}
		sum += e.score * e.weight
		weights += e.weight
	}
	if weights == 0 {
		return 0, GradeF
	}
	composite := clampScore(sum / weights)
	return composite, GradeFor(composite)
}

func marketEntries(scores []MarketScore) []weightedEntry {
	entries := make([]weightedEntry, len(scores))
	for i, s := range scores {
		entries[i] = weightedEntry{score: s.Composite, weight: s.AllocationUSD, idle: s.Idle}
	}
	return entries
}

func adapterEntries(scores []AdapterScore) []weightedEntry {
	entries := make([]weightedEntry, len(scores))
	for i, s := range scores {
		entries[i] = weightedEntry{score: s.Composite, weight: s.AllocationUSD}
	}
	return entries
}

// SortMarketScores orders records for display: descending allocation USD,
// idle legs after active ones when amounts tie. Aggregation never depends on
// this order.
func SortMarketScores(scores []MarketScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].AllocationUSD != scores[j].AllocationUSD {
			return scores[i].AllocationUSD > scores[j].AllocationUSD
		}
		return !scores[i].Idle && scores[j].Idle
	})
}

// SortAdapterScores orders adapter records by descending allocation USD.
func SortAdapterScores(scores []AdapterScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].AllocationUSD > scores[j].AllocationUSD
	})
}
