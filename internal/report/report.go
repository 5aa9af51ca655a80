// Package report turns an evaluation result into display rows.
package report

import (
	"fmt"

	"github.com/pavelanni/simpatient/internal/model"
)

// Band is the qualitative bucket of a score.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Band thresholds on the 0-10 scale.
const (
	HighThreshold   = 8.0
	MediumThreshold = 6.0
)

// BandFor classifies a score: high from 8, medium from 6, low below.
func BandFor(score float64) Band {
	switch {
	case score >= HighThreshold:
		return BandHigh
	case score >= MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// CategoryRow is one scored category as displayed.
type CategoryRow struct {
	Key     model.CategoryKey
	Label   string
	Score   float64
	Percent float64 // bar width, score*10
	Band    Band
}

// MetricKey identifies an analytics row.
type MetricKey string

const (
	MetricInformationDensity MetricKey = "information_density"
	MetricEmotionalTendency  MetricKey = "emotional_tendency"
	MetricResponseLength     MetricKey = "response_length"
	MetricTurnNumber         MetricKey = "turn_number"
)

// MetricRow is one analytics value, already formatted.
type MetricRow struct {
	Key   MetricKey
	Value string
}

// Report is the display model of an evaluation.
type Report struct {
	SessionID           string
	CaseID              string
	Categories          []CategoryRow
	Overall             float64
	OverallBand         Band
	Strengths           []string
	AreasForImprovement []string
	Feedback            string
	Analytics           []MetricRow
}

// Present builds the report for res. It does not modify res.
func Present(res model.EvaluationResult) Report {
	r := Report{
		SessionID:           res.SessionID,
		CaseID:              res.CaseID,
		Categories:          make([]CategoryRow, 0, len(model.Categories)),
		Overall:             res.Scores.OverallScore,
		OverallBand:         BandFor(res.Scores.OverallScore),
		Strengths:           append([]string(nil), res.Strengths...),
		AreasForImprovement: append([]string(nil), res.AreasForImprovement...),
		Feedback:            res.Feedback,
	}
	for _, c := range model.Categories {
		score, _ := res.Scores.Category(c.Key)
		r.Categories = append(r.Categories, CategoryRow{
			Key:     c.Key,
			Label:   c.Label,
			Score:   score,
			Percent: score * 10,
			Band:    BandFor(score),
		})
	}
	r.Analytics = analytics(res.Metrics)
	return r
}

// analytics emits rows only for metrics the provider reported.
func analytics(m *model.Metrics) []MetricRow {
	if m == nil {
		return nil
	}
	var rows []MetricRow
	if m.InformationDensity != nil {
		rows = append(rows, MetricRow{MetricInformationDensity, fmt.Sprintf("%.1f%%", *m.InformationDensity*100)})
	}
	if m.EmotionalTendency != nil {
		rows = append(rows, MetricRow{MetricEmotionalTendency, fmt.Sprintf("%+.2f", *m.EmotionalTendency)})
	}
	if m.ResponseLength != nil {
		rows = append(rows, MetricRow{MetricResponseLength, fmt.Sprintf("%.0f words", *m.ResponseLength)})
	}
	if m.TurnNumber != nil {
		rows = append(rows, MetricRow{MetricTurnNumber, fmt.Sprintf("%d turns", *m.TurnNumber)})
	}
	return rows
}
