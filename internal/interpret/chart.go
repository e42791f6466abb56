// Package interpret turns result rows into a chart recommendation and derived
// metrics. Everything here is pure and safe for concurrent use.
package interpret

import (
	"regexp"
	"strings"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

var (
	funnelWords     = []string{"funnel", "conversion path"}
	trendWords      = []string{"trend", "over time"}
	shareWords      = []string{"share", "distribution"}
	temporalColumns = []string{"date", "time", "created_at"}
	categoryColumns = []string{"campaign", "channel", "brand"}

	compareWords = regexp.MustCompile(`\b(compare|comparison|vs|versus)\b`)
)

const maxPieSlices = 6

// SuggestChartType picks a visualization from the question wording and the
// result's column names. Rules are ordered and the first match wins.
func SuggestChartType(rows []models.Row, question string) models.ChartType {
	if len(rows) == 0 {
		return models.ChartTable
	}
	q := strings.ToLower(question)
	cols := columnNames(rows[0])

	switch {
	case containsAny(q, funnelWords):
		return models.ChartFunnel
	case containsAny(q, trendWords):
		return models.ChartTrend
	case anyColumnContains(cols, temporalColumns):
		return models.ChartLine
	case containsAny(q, shareWords) && len(rows) <= maxPieSlices:
		return models.ChartPie
	case compareWords.MatchString(q), anyColumnContains(cols, categoryColumns):
		return models.ChartBar
	}
	return models.ChartTable
}

func columnNames(row models.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, strings.ToLower(k))
	}
	return cols
}

func anyColumnContains(cols, subs []string) bool {
	for _, c := range cols {
		if containsAny(c, subs) {
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
