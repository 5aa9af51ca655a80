// Package metrics computes non-scoring conversation analytics over the
// learner's side of a transcript.
package metrics

import (
	"math"
	"regexp"
	"strings"

	"github.com/pavelanni/simpatient/internal/model"
)

var wordRE = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var medicalTerms = set(
	"symptoms", "depression", "anxiety", "mood", "sleep", "appetite",
	"suicidal", "therapy", "medication", "diagnosis", "treatment",
	"psychiatric", "mental", "stress", "trauma", "bipolar", "panic",
	"obsessive", "compulsive", "psychotic", "hallucination", "delusion",
	"mania", "substance", "alcohol", "drug", "withdrawal", "ptsd",
)

var positiveWords = set(
	"thank", "understand", "help", "support", "appreciate", "sorry",
	"concerned", "care", "comfort", "safe", "better", "hope",
)

var negativeWords = set(
	"wrong", "bad", "fault", "blame", "stupid", "waste", "annoying",
	"bother", "problem", "difficult", "harsh",
)

// Calculate returns all four metrics for turns.
func Calculate(turns []model.Turn) model.Metrics {
	density := InformationDensity(turns)
	tendency := EmotionalTendency(turns)
	length := ResponseLength(turns)
	n := TurnNumber(turns)
	return model.Metrics{
		InformationDensity: &density,
		EmotionalTendency:  &tendency,
		ResponseLength:     &length,
		TurnNumber:         &n,
	}
}

// InformationDensity is the share of learner words that are medical terms,
// rounded to three decimals.
func InformationDensity(turns []model.Turn) float64 {
	var total, medical int
	for _, t := range learnerTurns(turns) {
		for _, w := range words(t.Content) {
			total++
			if _, ok := medicalTerms[w]; ok {
				medical++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return round(float64(medical)/float64(total), 3)
}

// EmotionalTendency scores the learner's tone from -1 (hostile) to 1
// (supportive). Each word counts at most once per message.
func EmotionalTendency(turns []model.Turn) float64 {
	var pos, neg int
	for _, t := range learnerTurns(turns) {
		seen := make(map[string]struct{})
		for _, w := range words(t.Content) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			if _, ok := positiveWords[w]; ok {
				pos++
			}
			if _, ok := negativeWords[w]; ok {
				neg++
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return round(float64(pos-neg)/float64(pos+neg), 3)
}

// ResponseLength is the mean number of whitespace-separated words per learner
// message, rounded to two decimals.
func ResponseLength(turns []model.Turn) float64 {
	learner := learnerTurns(turns)
	if len(learner) == 0 {
		return 0
	}
	var total int
	for _, t := range learner {
		total += len(strings.Fields(t.Content))
	}
	return round(float64(total)/float64(len(learner)), 2)
}

// TurnNumber counts every turn, patient and learner alike.
func TurnNumber(turns []model.Turn) int {
	return len(turns)
}

func learnerTurns(turns []model.Turn) []model.Turn {
	var out []model.Turn
	for _, t := range turns {
		if t.Role == model.RoleLearner {
			out = append(out, t)
		}
	}
	return out
}

func words(s string) []string {
	return wordRE.FindAllString(strings.ToLower(s), -1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
