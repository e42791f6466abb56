package interpret

import (
	"math"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

func TestSuggestChartType(t *testing.T) {
	dated := []models.Row{{"date": "2024-01-01", "sales": 10}, {"date": "2024-01-02", "sales": 12}}
	categories := []models.Row{
		{"segment": "a", "value": 1}, {"segment": "b", "value": 2},
		{"segment": "c", "value": 3}, {"segment": "d", "value": 4},
	}
	campaigns := []models.Row{{"campaign": "spring", "spend": 100}, {"campaign": "summer", "spend": 90}}
	plain := []models.Row{{"store": "north", "revenue": 10}}

	many := make([]models.Row, 8)
	for i := range many {
		many[i] = models.Row{"segment": i, "value": i}
	}

	tests := []struct {
		name     string
		rows     []models.Row
		question string
		want     models.ChartType
	}{
		{"trend_keyword_with_date", dated, "sales trend over time", models.ChartTrend},
		{"date_column_only", dated, "daily sales", models.ChartLine},
		{"created_at_column", []models.Row{{"created_at": "x", "n": 1}}, "orders", models.ChartLine},
		{"trend_without_date", plain, "revenue trend", models.ChartTrend},
		{"market_share", categories, "market share breakdown", models.ChartPie},
		{"share_too_many_rows", many, "market share breakdown", models.ChartTable},
		{"compare_vs", campaigns, "compare channel A vs B", models.ChartBar},
		{"campaign_column", campaigns, "spend this month", models.ChartBar},
		{"vs_word_only", plain, "north vs south", models.ChartBar},
		{"canvas_is_not_vs", plain, "canvas bag revenue", models.ChartTable},
		{"funnel", dated, "show the conversion funnel over time", models.ChartFunnel},
		{"conversion_path", plain, "conversion path by store", models.ChartFunnel},
		{"default", plain, "revenue by store", models.ChartTable},
		{"empty_rows", nil, "sales trend over time", models.ChartTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestChartType(tt.rows, tt.question))
		})
	}
}

func TestComputeMetric(t *testing.T) {
	rows := []models.Row{
		{"conversions": int64(30), "impressions": int64(10000)},
		{"conversions": 12.5, "impressions": "2500"},
		{"conversions": nil, "impressions": int32(0)},
	}
	got, ok := ComputeMetric(rows)
	require.True(t, ok)
	assert.InDelta(t, 3.4, got, 1e-9) // 42.5 / 12500 * 1000

	rounded, ok := ComputeMetric([]models.Row{{"conversions": 1, "impressions": 3}})
	require.True(t, ok)
	assert.Equal(t, 333.33, rounded)
}

func TestComputeMetricGuards(t *testing.T) {
	tests := []struct {
		name string
		rows []models.Row
	}{
		{"no_rows", nil},
		{"empty_rows", []models.Row{}},
		{"zero_denominators", []models.Row{{"conversions": 5, "impressions": 0}, {"conversions": 3, "impressions": 0}}},
		{"missing_columns", []models.Row{{"spend": 100}}},
		{"unparseable", []models.Row{{"conversions": "many", "impressions": "lots"}}},
		{"nan_values", []models.Row{{"conversions": math.NaN(), "impressions": math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := ComputeMetric(tt.rows)
			assert.False(t, ok)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		})
	}
}

func TestRatioMetricCustom(t *testing.T) {
	ctr := RatioMetric{Name: "ctr", Numerator: "clicks", Denominator: "impressions", Scale: 100, Precision: 1}
	v, ok := ctr.Compute([]models.Row{{"clicks": 25, "impressions": 1000}})
	require.True(t, ok)
	assert.Equal(t, 2.5, v)
}

func TestToFloat(t *testing.T) {
	numeric := pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}

	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(7), 7, true},
		{uint16(3), 3, true},
		{float32(1.5), 1.5, true},
		{" 42.5 ", 42.5, true},
		{numeric, 123.45, true},
		{&numeric, 123.45, true},
		{pgtype.Numeric{}, 0, false},
		{pgtype.Numeric{NaN: true, Valid: true}, 0, false},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
		{math.Inf(-1), 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "%#v", tt.in)
		}
	}
}

func TestDetectAnomalies(t *testing.T) {
	rows := make([]models.Row, 10)
	for i := range rows {
		rows[i] = models.Row{"channel": "tiktok", "spend": 10, "ces_score": 10.0}
	}
	rows[7]["ces_score"] = 100.0

	got := DetectAnomalies(rows, DefaultZThreshold)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Row)
	assert.Equal(t, "ces_score", got[0].Column)
	assert.Equal(t, 100.0, got[0].Value)
	assert.Equal(t, 3.0, got[0].ZScore)
}

func TestDetectAnomaliesNone(t *testing.T) {
	flat := []models.Row{{"spend": 5}, {"spend": 5}, {"spend": 5}, {"spend": 5}}
	assert.Empty(t, DetectAnomalies(flat, 2), "zero spread")

	short := []models.Row{{"spend": 1}, {"spend": 1000}}
	assert.Empty(t, DetectAnomalies(short, 2), "too few rows")

	unknown := []models.Row{{"x": 1}, {"x": 2}, {"x": 900}}
	assert.Empty(t, DetectAnomalies(unknown, 2), "no preferred column")

	mixed := []models.Row{{"cpc": "n/a"}, {"cpc": nil}, {"cpc": 1}, {"cpc": 2}}
	assert.Empty(t, DetectAnomaliesIn(mixed, "cpc", 0), "fewer than three numeric values")
}
