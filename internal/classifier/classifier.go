// Package classifier maps a free-text question to a complexity tier and the
// execution profile that answers it. Classification is total, deterministic,
// and has no side effects: the same question always yields the same result.
package classifier

import (
	"fmt"
	"strings"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

type Classifier struct {
	rules    []Rule
	profiles models.ProfileSet
}

// New builds a classifier over a fixed profile table. A nil rule slice selects DefaultRules.
func New(profiles models.ProfileSet, rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules, profiles: profiles}
}

var defaultClassifier = New(DefaultProfiles(), nil)

// Classify uses the built-in rules and profiles.
func Classify(question string) models.ClassificationResult {
	return defaultClassifier.Classify(question)
}

func (c *Classifier) Profiles() models.ProfileSet {
	return c.profiles
}

func (c *Classifier) Classify(question string) models.ClassificationResult {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return c.result(models.TierMedium, 0.5, "Empty question, using default tier")
	}

	for _, rule := range c.rules {
		if rule.Pattern.MatchString(q) {
			return c.result(rule.Tier, rule.Confidence, rule.Reasoning)
		}
	}

	score := Score(q)
	switch {
	case score <= 1:
		return c.result(models.TierSimple, 0.7, fmt.Sprintf("Low complexity score: %d", score))
	case score <= 3:
		return c.result(models.TierMedium, 0.6, fmt.Sprintf("Medium complexity score: %d", score))
	default:
		return c.result(models.TierComplex, 0.8, fmt.Sprintf("High complexity score: %d", score))
	}
}

func (c *Classifier) result(tier models.ComplexityTier, confidence float64, reasoning string) models.ClassificationResult {
	return models.ClassificationResult{
		Tier:       tier,
		Confidence: confidence,
		Reasoning:  reasoning,
		Profile:    c.profiles.For(tier),
	}
}

var (
	questionWords = []string{"why", "how", "what if", "explain"}
	criteriaWords = map[string]bool{"and": true, "or": true, "but": true, "also": true, "additionally": true, "furthermore": true}
	temporalWords = []string{"trend", "over time", "historical", "monthly", "yearly", "seasonal"}
	interrogative = []string{"what", "why", "how", "which", "who", "when", "where", "is", "are", "can", "does", "do", "should"}
)

// Score is the heuristic complexity score for a normalized (lowercased, trimmed) question.
func Score(q string) int {
	words := strings.Fields(q)
	score := 0

	switch {
	case len(words) > 20:
		score += 2
	case len(words) > 10:
		score++
	}
	if len(q) > 100 {
		score++
	}

	if isInterrogative(q, words) && containsAny(q, questionWords) {
		score += 2
	}

	for _, w := range words {
		if criteriaWords[strings.Trim(w, ",.;:?!")] {
			score++
			break
		}
	}

	if containsAny(q, temporalWords) {
		score++
	}

	return score
}

func isInterrogative(q string, words []string) bool {
	if strings.Contains(q, "?") {
		return true
	}
	if len(words) == 0 {
		return false
	}
	for _, w := range interrogative {
		if words[0] == w {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
