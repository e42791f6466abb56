package genie

import (
	"strings"
	"unicode"
)

const suggestionCount = 3

// Suggestions returns three follow-up questions for question: the first rule
// with a matching keyword wins, otherwise the catalog defaults.
func (c Catalog) Suggestions(question string) []string {
	words := tokenize(question)
	for _, rule := range c.SuggestionRules {
		for _, kw := range rule.Keywords {
			if keywordMatch(words, kw) {
				return firstN(rule.Questions, suggestionCount)
			}
		}
	}
	return firstN(c.DefaultSuggestions, suggestionCount)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordMatch treats short keywords ("x", "ces") as whole words and longer
// ones as word prefixes, so "conversion" matches "conversions".
func keywordMatch(words []string, kw string) bool {
	for _, w := range words {
		if len(kw) <= 3 {
			if w == kw {
				return true
			}
		} else if strings.HasPrefix(w, kw) {
			return true
		}
	}
	return false
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string(nil), s...)
}
