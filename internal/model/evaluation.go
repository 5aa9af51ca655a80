package model

import "fmt"

// CategoryKey names one of the eight scored interview skills.
type CategoryKey string

const (
	CategoryRapportBuilding           CategoryKey = "rapport_building"
	CategoryActiveListeningEmpathy    CategoryKey = "active_listening_empathy"
	CategoryPsychiatricHistory        CategoryKey = "psychiatric_history"
	CategoryRiskAssessment            CategoryKey = "risk_assessment"
	CategoryBiopsychosocialAssessment CategoryKey = "biopsychosocial_assessment"
	CategoryCommunicationSkills       CategoryKey = "communication_skills"
	CategoryCulturalSensitivity       CategoryKey = "cultural_sensitivity"
	CategoryInterviewStructure        CategoryKey = "interview_structure"
)

// Category pairs a category key with its canonical label.
type Category struct {
	Key   CategoryKey
	Label string
}

// Categories lists the scored categories in display order.
var Categories = []Category{
	{CategoryRapportBuilding, "Rapport Building & Therapeutic Alliance"},
	{CategoryActiveListeningEmpathy, "Active Listening & Empathy"},
	{CategoryPsychiatricHistory, "Psychiatric History Taking"},
	{CategoryRiskAssessment, "Risk Assessment"},
	{CategoryBiopsychosocialAssessment, "Biopsychosocial Assessment"},
	{CategoryCommunicationSkills, "Communication Skills"},
	{CategoryCulturalSensitivity, "Cultural Sensitivity & Respect"},
	{CategoryInterviewStructure, "Interview Structure & Completeness"},
}

// MinScore and MaxScore bound every score.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Scores holds the per-category scores and the overall score.
type Scores struct {
	RapportBuilding           float64 `json:"rapport_building"`
	ActiveListeningEmpathy    float64 `json:"active_listening_empathy"`
	PsychiatricHistory        float64 `json:"psychiatric_history"`
	RiskAssessment            float64 `json:"risk_assessment"`
	BiopsychosocialAssessment float64 `json:"biopsychosocial_assessment"`
	CommunicationSkills       float64 `json:"communication_skills"`
	CulturalSensitivity       float64 `json:"cultural_sensitivity"`
	InterviewStructure        float64 `json:"interview_structure"`
	OverallScore              float64 `json:"overall_score"`
}

// Category returns the score for a category key.
func (s Scores) Category(key CategoryKey) (float64, bool) {
	switch key {
	case CategoryRapportBuilding:
		return s.RapportBuilding, true
	case CategoryActiveListeningEmpathy:
		return s.ActiveListeningEmpathy, true
	case CategoryPsychiatricHistory:
		return s.PsychiatricHistory, true
	case CategoryRiskAssessment:
		return s.RiskAssessment, true
	case CategoryBiopsychosocialAssessment:
		return s.BiopsychosocialAssessment, true
	case CategoryCommunicationSkills:
		return s.CommunicationSkills, true
	case CategoryCulturalSensitivity:
		return s.CulturalSensitivity, true
	case CategoryInterviewStructure:
		return s.InterviewStructure, true
	}
	return 0, false
}

// Validate checks that every score lies in [MinScore, MaxScore].
// The overall score is range-checked only; it is not compared to the categories.
func (s Scores) Validate() error {
	for _, c := range Categories {
		v, _ := s.Category(c.Key)
		if v < MinScore || v > MaxScore {
			return fmt.Errorf("score %s out of range: %g", c.Key, v)
		}
	}
	if s.OverallScore < MinScore || s.OverallScore > MaxScore {
		return fmt.Errorf("overall score out of range: %g", s.OverallScore)
	}
	return nil
}

// Metrics holds non-scoring conversation analytics. Nil fields were not
// reported by the provider.
type Metrics struct {
	InformationDensity *float64 `json:"information_density,omitempty"`
	EmotionalTendency  *float64 `json:"emotional_tendency,omitempty"`
	ResponseLength     *float64 `json:"response_length,omitempty"`
	TurnNumber         *int     `json:"turn_number,omitempty"`
}

// EvaluationResult is the scored outcome of one interview session.
type EvaluationResult struct {
	SessionID           string   `json:"session_id"`
	CaseID              string   `json:"case_id"`
	Scores              Scores   `json:"scores"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Feedback            string   `json:"feedback"`
	Metrics             *Metrics `json:"metrics,omitempty"`
	Error               string   `json:"error,omitempty"`
}
