package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedAggregate(t *testing.T) {
	tests := []struct {
		name          string
		entries       []weightedEntry
		expectedScore float64
		expectedGrade Grade
	}{
		{
			name: "weights by allocation",
			entries: []weightedEntry{
				{score: 90, weight: 750_000},
				{score: 70, weight: 250_000},
			},
			expectedScore: 85,
			expectedGrade: GradeBPlus,
		},
		{
			name: "idle children are excluded from the average",
			entries: []weightedEntry{
				{score: 90, weight: 1_000_000},
				{score: 0, weight: 500_000, idle: true},
			},
			expectedScore: 90,
			expectedGrade: GradeA,
		},
		{
			name: "zero-weight children are excluded",
			entries: []weightedEntry{
				{score: 88, weight: 400_000},
				{score: 5, weight: 0},
			},
			expectedScore: 88,
			expectedGrade: GradeAMinus,
		},
		{
			name:          "no children lands on the floor",
			entries:       nil,
			expectedScore: 0,
			expectedGrade: GradeF,
		},
		{
			name: "all idle lands on the floor",
			entries: []weightedEntry{
				{score: 95, weight: 0.5, idle: true},
				{score: 95, weight: 0, idle: true},
			},
			expectedScore: 0,
			expectedGrade: GradeF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, grade := weightedAggregate(tt.entries)
			assert.InDelta(t, tt.expectedScore, score, 1e-9)
			assert.Equal(t, tt.expectedGrade, grade)
		})
	}
}

func TestIsIdle(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		leg      Allocation
		expected bool
	}{
		{
			name:     "zero usd and zero tokens",
			leg:      Allocation{},
			expected: true,
		},
		{
			name:     "dust usd and zero tokens",
			leg:      Allocation{AmountUSD: 0.42},
			expected: true,
		},
		{
			name:     "meaningful usd allocation",
			leg:      Allocation{AmountUSD: 25_000},
			expected: false,
		},
		{
			name:     "unpriced but supplied tokens",
			leg:      Allocation{AmountUSD: 0, AmountTokens: 12.5},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cfg.IsIdle(tt.leg))
		})
	}
}

func TestSortMarketScores(t *testing.T) {
	scores := []MarketScore{
		{MarketKey: "idle-large", Idle: true, AllocationUSD: 1000},
		{MarketKey: "small", AllocationUSD: 10},
		{MarketKey: "active-large", AllocationUSD: 1000},
		{MarketKey: "idle-small", Idle: true, AllocationUSD: 10},
		{MarketKey: "mid", AllocationUSD: 500},
	}

	SortMarketScores(scores)

	keys := make([]string, len(scores))
	for i, s := range scores {
		keys[i] = s.MarketKey
	}
	// Descending by allocation; the idle leg loses the tie at each level.
	assert.Equal(t, []string{"active-large", "idle-large", "mid", "small", "idle-small"}, keys)
}

func TestSortAdapterScores(t *testing.T) {
	adapters := []AdapterScore{
		{Address: "0xb", AllocationUSD: 100},
		{Address: "0xa", AllocationUSD: 900},
		{Address: "0xc", AllocationUSD: 400},
	}

	SortAdapterScores(adapters)

	assert.Equal(t, "0xa", adapters[0].Address)
	assert.Equal(t, "0xc", adapters[1].Address)
	assert.Equal(t, "0xb", adapters[2].Address)
}
