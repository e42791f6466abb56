package interpret

import (
	"math"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

const (
	DefaultZThreshold = 2.0
	minAnomalyRows    = 3
)

// PreferredColumns are checked in order; the first one present is scanned for anomalies.
var PreferredColumns = []string{
	"ces_score",
	"conversion_rate",
	"ctr",
	"cpc",
	"spend",
	"conversions",
	"impressions",
	"clicks",
	"total_amount",
}

// DetectAnomalies scans the first preferred column present in rows.
func DetectAnomalies(rows []models.Row, threshold float64) []models.Anomaly {
	if len(rows) < minAnomalyRows {
		return nil
	}
	for _, col := range PreferredColumns {
		if _, ok := rows[0][col]; ok {
			return DetectAnomaliesIn(rows, col, threshold)
		}
	}
	return nil
}

// DetectAnomaliesIn flags rows whose value in column is more than threshold
// population standard deviations from the mean. Rows without a numeric value
// are skipped; fewer than three numeric values or zero spread yields nothing.
func DetectAnomaliesIn(rows []models.Row, column string, threshold float64) []models.Anomaly {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}

	type point struct {
		row int
		v   float64
	}
	points := make([]point, 0, len(rows))
	var sum float64
	for i, row := range rows {
		if v, ok := ToFloat(row[column]); ok {
			points = append(points, point{row: i, v: v})
			sum += v
		}
	}
	if len(points) < minAnomalyRows {
		return nil
	}

	mean := sum / float64(len(points))
	var sq float64
	for _, p := range points {
		sq += (p.v - mean) * (p.v - mean)
	}
	std := math.Sqrt(sq / float64(len(points)))
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	var out []models.Anomaly
	for _, p := range points {
		z := (p.v - mean) / std
		if math.Abs(z) > threshold {
			out = append(out, models.Anomaly{
				Row:    p.row,
				Column: column,
				Value:  p.v,
				ZScore: math.Round(z*100) / 100,
			})
		}
	}
	return out
}
