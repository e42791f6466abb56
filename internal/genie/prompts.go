package genie

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

const (
	previewRows     = 5
	followUpTurns   = 3
	tenantFilterSQL = "tenant_id = current_setting('app.current_tenant_id')"
)

func (c Catalog) sqlSystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You translate questions about %s into a single PostgreSQL query.\n\n", c.Domain)
	b.WriteString("TABLES:\n")
	b.WriteString(c.schema())
	b.WriteString("\nRULES:\n")
	fmt.Fprintf(&b, "- Every table you read must be filtered with WHERE %s\n", tenantFilterSQL)
	b.WriteString("- Only SELECT or WITH queries, one statement, no trailing semicolon\n")
	b.WriteString("- Reply with the SQL only, no prose and no markdown\n")
	if c.MetricFormula != "" {
		fmt.Fprintf(&b, "- %s\n", c.MetricFormula)
	}
	return b.String()
}

func sqlUserPrompt(question string) string {
	return "Write the SQL for: " + question
}

func (c Catalog) analystSystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an analyst for %s. Answer in plain language a business team can act on.\n\n", c.Domain)
	b.WriteString("TABLES:\n")
	b.WriteString(c.schema())
	if len(c.Channels) > 0 {
		fmt.Fprintf(&b, "\nCHANNELS: %s\n", strings.Join(c.Channels, ", "))
	}
	if len(c.Metrics) > 0 {
		fmt.Fprintf(&b, "METRICS: %s\n", strings.Join(c.Metrics, ", "))
	}
	if c.MetricFormula != "" {
		fmt.Fprintf(&b, "FORMULA: %s\n", c.MetricFormula)
	}
	if len(c.Rules) > 0 {
		b.WriteString("\nGUIDELINES:\n")
		for _, r := range c.Rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

func explainUserPrompt(question string, rows []models.Row) string {
	preview := rows
	if len(preview) > previewRows {
		preview = preview[:previewRows]
	}
	data, err := json.MarshalIndent(preview, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	return fmt.Sprintf("QUESTION: %s\nFIRST %d ROWS:\n%s\nTOTAL ROWS: %d\n\nSummarize what these results say and what to do next.",
		question, previewRows, data, len(rows))
}

func degradedUserPrompt(question, sql string) string {
	return fmt.Sprintf("QUESTION: %s\nPROPOSED SQL:\n%s\n\n"+
		"This query could not be run. Explain what it would have shown, why it may have failed, and suggest another way to get the answer.",
		question, sql)
}

// textualSystemPrompt asks for a JSON reply so the answer, suggestions and
// confidence can be read back without SQL.
func (c Catalog) textualSystemPrompt() string {
	return c.analystSystemPrompt() + `
Reply with one JSON object:
{"answer": "...", "chartType": "bar|line|pie|table|funnel|trend", "suggestedQueries": ["...", "...", "..."], "confidence": 0.0}`
}

func textualUserPrompt(question string, recent []models.HistoryEntry) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("EARLIER IN THIS CONVERSATION:\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", e.Question, e.Answer)
		}
	}
	fmt.Fprintf(&b, "QUESTION: %s", question)
	return b.String()
}
