package genie

import (
	"fmt"
	"strings"

	"github.com/HanTheDev/genie-analytics/internal/interpret"
)

type Table struct {
	Name    string
	Columns []string
}

// SuggestionRule maps question keywords to follow-up questions.
type SuggestionRule struct {
	Keywords  []string
	Questions []string
}

// Catalog describes the schema and vocabulary a tenant's questions are asked against.
type Catalog struct {
	Name     string
	Domain   string
	Tables   []Table
	Channels []string
	Metrics  []string
	// Metric is computed over executed rows when set.
	Metric        *interpret.RatioMetric
	MetricFormula string
	Rules         []string

	SuggestionRules    []SuggestionRule
	DefaultSuggestions []string
	Examples           []string
}

func (c Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

func (c Catalog) schema() string {
	var b strings.Builder
	for _, t := range c.Tables {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, strings.Join(t.Columns, ", "))
	}
	return b.String()
}

// CatalogByName returns a built-in catalog.
func CatalogByName(name string) (Catalog, error) {
	switch strings.ToLower(name) {
	case "", "campaign":
		return CampaignCatalog(), nil
	case "retail":
		return RetailCatalog(), nil
	}
	return Catalog{}, fmt.Errorf("unknown catalog %q", name)
}

func CampaignCatalog() Catalog {
	channels := []string{"facebook", "tiktok", "x", "google", "linkedin", "youtube"}
	ces := interpret.CES
	return Catalog{
		Name:   "campaign",
		Domain: "digital marketing campaign performance",
		Tables: []Table{
			{Name: "campaign_events", Columns: []string{
				"tenant_id", "campaign_id", "event_time", "event_type", "channel", "creative_id",
				"spend", "impressions", "clicks", "conversions", "raw_payload",
			}},
			{Name: "campaign_metrics_daily", Columns: []string{
				"tenant_id", "campaign_id", "event_date", "channel", "spend", "impressions",
				"clicks", "conversions", "ces_score", "ctr", "cpc", "conversion_rate",
			}},
			{Name: "campaign_performance", Columns: []string{
				"tenant_id", "campaign_id", "campaign_name", "channel", "status", "total_spend",
				"total_impressions", "total_clicks", "total_conversions", "avg_ces_score",
				"created_at", "updated_at",
			}},
		},
		Channels:      channels,
		Metrics:       []string{"spend", "impressions", "clicks", "conversions", "ces_score", "ctr", "cpc", "conversion_rate"},
		Metric:        &ces,
		MetricFormula: "CES score = (conversions / NULLIF(impressions, 0)) * 1000",
		Rules: []string{
			"Focus on campaign performance and what would raise the CES score",
			"Compare channels, campaigns or time periods when it helps",
			"Consider cost per conversion and return on ad spend",
		},
		SuggestionRules: []SuggestionRule{
			{
				Keywords: []string{"ces", "score"},
				Questions: []string{
					"Which campaigns have the highest CES scores?",
					"Show CES score trends over the last 30 days",
					"Compare CES scores across different channels",
				},
			},
			{
				Keywords: append([]string{"channel"}, channels...),
				Questions: []string{
					"Compare channel performance by CES score",
					"Which channel has the best cost per conversion?",
					"Show cross-channel campaign attribution",
				},
			},
			{
				Keywords: []string{"conversion", "cpc"},
				Questions: []string{
					"Analyze conversion funnel performance",
					"Show campaigns with the best conversion rates",
					"Compare cost per conversion by channel",
				},
			},
		},
		DefaultSuggestions: []string{
			"What was the CES score trend for top campaigns last week?",
			"Compare cost per conversion of TikTok vs Facebook this month",
			"Which campaigns have the highest ROI?",
		},
		Examples: []string{
			"What was the CES score trend for Campaign X over the last 90 days?",
			"Compare cost per conversion of TikTok vs Facebook last month",
			"Which campaigns have the highest conversion rates?",
			"Show me the top performing channels by CES score",
			"What are the conversion funnel drop-off points?",
			"Compare weekend vs weekday campaign performance",
		},
	}
}

func RetailCatalog() Catalog {
	return Catalog{
		Name:   "retail",
		Domain: "retail sales",
		Tables: []Table{
			{Name: "transactions", Columns: []string{
				"tenant_id", "id", "total_amount", "customer_age", "customer_gender", "store_location", "created_at",
			}},
			{Name: "brands", Columns: []string{"tenant_id", "id", "name", "is_tbwa", "category"}},
			{Name: "products", Columns: []string{"tenant_id", "id", "name", "brand_id", "price", "category"}},
			{Name: "customers", Columns: []string{"tenant_id", "id", "age", "gender", "location"}},
			{Name: "stores", Columns: []string{"tenant_id", "id", "name", "location", "region"}},
		},
		Metrics: []string{"total_amount", "price"},
		Rules: []string{
			"Use proper JOINs across brands, products, stores and transactions",
			"Consider TBWA brands versus competitors when relevant",
		},
		SuggestionRules: []SuggestionRule{
			{
				Keywords: []string{"brand"},
				Questions: []string{
					"Show me TBWA brand performance",
					"Compare brand market share",
					"What are the fastest growing brands?",
				},
			},
			{
				Keywords: []string{"region", "store", "location"},
				Questions: []string{
					"Show sales by region",
					"Which stores have the highest revenue?",
					"What's the average transaction value by region?",
				},
			},
			{
				Keywords: []string{"sales", "revenue"},
				Questions: []string{
					"Show sales by region",
					"What's driving sales growth?",
					"Compare this month vs last month",
				},
			},
			{
				Keywords: []string{"customer", "demographic"},
				Questions: []string{
					"Show customer age distribution",
					"Which gender spends more?",
					"Customer retention analysis",
				},
			},
		},
		DefaultSuggestions: []string{
			"Show me top performing brands",
			"Analyze sales trends",
			"Customer demographics overview",
		},
		Examples: []string{
			"What are the top 5 selling brands this month?",
			"Show me sales trends for the last 6 months",
			"Which age group spends the most?",
			"Compare TBWA brands vs competitors",
			"Which stores have the highest revenue?",
		},
	}
}
