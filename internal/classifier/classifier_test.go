package classifier

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		question   string
		tier       models.ComplexityTier
		confidence float64
		reasoning  string
	}{
		{"top_n", "show top 5 brands", models.TierSimple, 0.9, simplePatternReason},
		{"top_n_padded", "  Show Top 10 campaigns by spend  ", models.TierSimple, 0.9, simplePatternReason},
		{"total_of", "what is the total spend this month", models.TierSimple, 0.9, simplePatternReason},
		{"count", "count customers", models.TierSimple, 0.9, simplePatternReason},
		{"arithmetic", "2 + 2", models.TierSimple, 0.9, simplePatternReason},
		{"analysis", "analyze customer behavior trends and predict future patterns", models.TierComplex, 0.85, complexPatternReason},
		{"why", "why did conversions drop on tiktok", models.TierComplex, 0.85, complexPatternReason},
		{"versus", "tiktok vs facebook spend", models.TierComplex, 0.85, complexPatternReason},
		{"sql_join", "join orders with customers", models.TierComplex, 0.8, complexSQLReason},
		{"sql_several", "spend across several channels", models.TierComplex, 0.8, complexSQLReason},
		{"heuristic_low", "list stores in the north region", models.TierSimple, 0.7, "Low complexity score: 0"},
		{"heuristic_medium_what_if", "what if we double the budget?", models.TierMedium, 0.6, "Medium complexity score: 2"},
		{"heuristic_medium_criteria", "list stores in the north region and the south region for last year", models.TierMedium, 0.6, "Medium complexity score: 2"},
		{"heuristic_high", "what if we double the budget for the north stores and the south stores?", models.TierComplex, 0.8, "High complexity score: 4"},
		{"empty", "", models.TierMedium, 0.5, "Empty question, using default tier"},
		{"whitespace", " \t\n ", models.TierMedium, 0.5, "Empty question, using default tier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.question)
			assert.Equal(t, tt.tier, got.Tier)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.reasoning, got.Reasoning)
			assert.Equal(t, DefaultProfiles().For(tt.tier), got.Profile)
		})
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	// "show" contains "how" and "canvas" contains "vs"; neither is analysis vocabulary.
	got := Classify("show stores near the canvas depot")
	assert.Equal(t, models.TierSimple, got.Tier)
	assert.Equal(t, "Low complexity score: 0", got.Reasoning)
}

func TestClassifyDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vocab := strings.Fields("show top 5 brands why how analyze and or trend monthly what if ? total count join " +
		"several campaign channel spend impressions 2 + * / vs compare explain predict region \x00 \xff é 漢字")

	inputs := []string{"", " ", "?", "\xff\xfe", strings.Repeat("word ", 500)}
	for i := 0; i < 500; i++ {
		n := rng.Intn(30)
		words := make([]string, n)
		for j := range words {
			words[j] = vocab[rng.Intn(len(vocab))]
		}
		inputs = append(inputs, strings.Join(words, " "))
	}

	for _, q := range inputs {
		first := Classify(q)
		second := Classify(q)
		require.Equal(t, first, second, "question %q", q)
		assert.True(t, first.Tier.Valid(), "question %q", q)
		assert.GreaterOrEqual(t, first.Confidence, 0.0)
		assert.LessOrEqual(t, first.Confidence, 1.0)
		assert.NotEmpty(t, first.Reasoning)
		assert.NotEmpty(t, first.Profile.ModelID)
	}
}

func TestCostOrdering(t *testing.T) {
	simpleResult := Classify("show top 5 brands")
	complexResult := Classify("analyze customer behavior trends and predict future patterns")

	require.Equal(t, models.TierSimple, simpleResult.Tier)
	require.Equal(t, models.TierComplex, complexResult.Tier)
	assert.Less(t, simpleResult.Profile.CostPerToken, complexResult.Profile.CostPerToken)

	p := DefaultProfiles()
	assert.Less(t, p.Simple.CostPerToken, p.Medium.CostPerToken)
	assert.Less(t, p.Medium.CostPerToken, p.Complex.CostPerToken)
}

func TestCustomRulesAndProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	profiles.Complex.ModelID = "custom-large"

	c := New(profiles, []Rule{complexAnalysis(`\bcohort\b`)})

	got := c.Classify("cohort retention by signup week")
	assert.Equal(t, models.TierComplex, got.Tier)
	assert.Equal(t, "custom-large", got.Profile.ModelID)

	// Default rules are not consulted when a custom table is supplied.
	got = c.Classify("show top 5 brands")
	assert.Equal(t, models.TierSimple, got.Tier)
	assert.Equal(t, "Low complexity score: 0", got.Reasoning)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0, Score(""))
	assert.Equal(t, 1, Score("show monthly revenue for each store"))
	long := strings.Repeat("store ", 21)
	assert.Equal(t, 3, Score(strings.TrimSpace(long))) // >20 words and >100 chars
}
