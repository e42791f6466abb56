package classifier

import (
	"regexp"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

// Rule is one entry of the ordered pattern table. The first matching rule wins.
type Rule struct {
	Pattern    *regexp.Regexp
	Tier       models.ComplexityTier
	Confidence float64
	Reasoning  string
}

const (
	simplePatternReason  = "Matches simple query pattern"
	complexPatternReason = "Matches complex analysis pattern"
	complexSQLReason     = "Requires complex SQL generation"
)

func simple(expr string) Rule {
	return Rule{Pattern: regexp.MustCompile(expr), Tier: models.TierSimple, Confidence: 0.9, Reasoning: simplePatternReason}
}

func complexAnalysis(expr string) Rule {
	return Rule{Pattern: regexp.MustCompile(expr), Tier: models.TierComplex, Confidence: 0.85, Reasoning: complexPatternReason}
}

func complexSQL(expr string) Rule {
	return Rule{Pattern: regexp.MustCompile(expr), Tier: models.TierComplex, Confidence: 0.8, Reasoning: complexSQLReason}
}

// DefaultRules is matched against the lowercased, trimmed question.
// Simple lookups come first, then analysis vocabulary, then SQL shape indicators.
func DefaultRules() []Rule {
	return []Rule{
		simple(`^(what|show|list|get|find)\s+(me\s+)?(the\s+)?(top|best|worst)\s+\d+`),
		simple(`^(what|show)\s+(is|are)\s+the\s+(total|sum|count|number|average)\b`),
		simple(`^count\s+\w+`),
		simple(`^(sum|total|average|mean)\s+\w+`),
		simple(`^simple\s+`),
		simple(`^\d+(\.\d+)?\s*[+\-*/]\s*\d+(\.\d+)?$`),

		complexAnalysis(`\b(analy[sz]e|analysis|compare|comparison|correlation)\b`),
		complexAnalysis(`\b(trends?|patterns?|insights?|recommendations?|strategy)\b`),
		complexAnalysis(`\b(why|how|explain|because|reason|factors?)\b`),
		complexAnalysis(`\b(predict|forecast|projection|future)\b`),
		complexAnalysis(`\b(segment|cluster|categorize)\b`),
		complexAnalysis(`\b(anomal(y|ies)|outliers?|unusual|strange)\b`),
		complexAnalysis(`\b(optimi[sz]ation|optimi[sz]e|improve|enhance)\b`),
		complexAnalysis(`\b(versus|vs\.?|against|compared to)(\s|$)`),

		complexSQL(`\b(join|group by|having|window|partition)\b`),
		complexSQL(`\b(subquery|nested|complex)\b`),
		complexSQL(`\b(multiple|several|various|different)\b`),
	}
}

// DefaultProfiles is the built-in tier table used when configuration supplies none.
func DefaultProfiles() models.ProfileSet {
	return models.ProfileSet{
		Simple: models.ExecutionProfile{
			ModelID:      "gpt-35-turbo",
			Temperature:  0.1,
			MaxTokens:    300,
			CostPerToken: 0.0005,
		},
		Medium: models.ExecutionProfile{
			ModelID:      "gpt-35-turbo-16k",
			Temperature:  0.3,
			MaxTokens:    800,
			CostPerToken: 0.001,
		},
		Complex: models.ExecutionProfile{
			ModelID:      "gpt-4",
			Temperature:  0.2,
			MaxTokens:    1500,
			CostPerToken: 0.03,
		},
	}
}
