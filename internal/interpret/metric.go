package interpret

import (
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

// RatioMetric is (sum(Numerator) / sum(Denominator)) * Scale over all rows,
// rounded to Precision decimals.
type RatioMetric struct {
	Name        string
	Numerator   string
	Denominator string
	Scale       float64
	Precision   int
}

// CES is the campaign efficiency score: conversions per thousand impressions.
var CES = RatioMetric{
	Name:        "ces_score",
	Numerator:   "conversions",
	Denominator: "impressions",
	Scale:       1000,
	Precision:   2,
}

// Compute returns false when there are no rows or the denominator sums to zero
// or less. Values that cannot be read as numbers count as zero.
func (m RatioMetric) Compute(rows []models.Row) (float64, bool) {
	if len(rows) == 0 {
		return 0, false
	}
	var num, den float64
	for _, row := range rows {
		if v, ok := ToFloat(row[m.Numerator]); ok {
			num += v
		}
		if v, ok := ToFloat(row[m.Denominator]); ok {
			den += v
		}
	}
	if den <= 0 {
		return 0, false
	}

	v := num / den * m.Scale
	if m.Precision >= 0 {
		p := math.Pow(10, float64(m.Precision))
		v = math.Round(v*p) / p
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ComputeMetric computes the CES score.
func ComputeMetric(rows []models.Row) (float64, bool) {
	return CES.Compute(rows)
}

// ToFloat reads the numeric kinds a Postgres driver hands back, including
// numeric columns and numbers rendered as text. NaN and infinities are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case pgtype.Numeric:
		return numericFloat(n)
	case *pgtype.Numeric:
		if n == nil {
			return 0, false
		}
		return numericFloat(*n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numericFloat(n pgtype.Numeric) (float64, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, false
	}
	f8, err := n.Float64Value()
	if err != nil || !f8.Valid {
		return 0, false
	}
	return f8.Float64, true
}
