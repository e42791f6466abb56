package genie

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

const textualConfidenceCap = 0.7

type textualReply struct {
	Answer           string   `json:"answer"`
	ChartType        string   `json:"chartType"`
	SuggestedQueries []string `json:"suggestedQueries"`
	Confidence       *float64 `json:"confidence"`
}

// parseTextual reads the JSON object embedded in a textual reply. A reply that
// is not JSON is used as the answer verbatim.
func parseTextual(text string) textualReply {
	reply := textualReply{Answer: strings.TrimSpace(text)}

	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var parsed textualReply
		if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err == nil {
			if strings.TrimSpace(parsed.Answer) != "" {
				reply.Answer = strings.TrimSpace(parsed.Answer)
			}
			reply.ChartType = parsed.ChartType
			reply.SuggestedQueries = parsed.SuggestedQueries
			reply.Confidence = parsed.Confidence
		}
	}
	return reply
}

// confidence never exceeds the textual cap, whatever the model claims.
func (r textualReply) confidence() float64 {
	if r.Confidence == nil || *r.Confidence <= 0 || *r.Confidence > textualConfidenceCap {
		return textualConfidenceCap
	}
	return *r.Confidence
}

func (r textualReply) chart() models.ChartType {
	ct := models.ChartType(strings.ToLower(strings.TrimSpace(r.ChartType)))
	switch ct {
	case models.ChartBar, models.ChartLine, models.ChartPie, models.ChartTable, models.ChartFunnel, models.ChartTrend:
		return ct
	}
	return ""
}
