package model

import "time"

// Role represents who voiced a transcript turn. The values match the chat
// roles used on the wire by the provider API.
type Role string

const (
	// RolePatient marks a turn voiced by the simulated patient.
	RolePatient Role = "assistant"
	// RoleLearner marks a turn authored by the learner.
	RoleLearner Role = "user"
)

// Difficulty is the case difficulty label.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Case is a patient case from the catalogue.
type Case struct {
	ID                string     `json:"id"`
	PatientName       string     `json:"patient_name"`
	Age               int        `json:"age"`
	Gender            string     `json:"gender"`
	ChiefComplaint    string     `json:"chief_complaint"`
	Condition         string     `json:"condition"`
	Background        string     `json:"background"`
	Symptoms          string     `json:"symptoms"`
	MedicalHistory    string     `json:"medical_history"`
	DifficultyLevel   Difficulty `json:"difficulty_level"`
	ExpectedQuestions []string   `json:"expected_questions,omitempty"`
}

// Turn is one utterance in an interview transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PatientTurn builds a patient-voiced turn.
func PatientTurn(content string) Turn {
	return Turn{Role: RolePatient, Content: content}
}

// LearnerTurn builds a learner-authored turn.
func LearnerTurn(content string) Turn {
	return Turn{Role: RoleLearner, Content: content}
}

// ChatRequest is the body of a patient-response request.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	CaseID    string `json:"case_id"`
	Message   string `json:"message"`
	Messages  []Turn `json:"messages,omitempty"`
}

// ChatResponse carries the patient's reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	CaseID    string `json:"case_id"`
}

// EvaluationRequest is the body submitted to the scoring provider.
type EvaluationRequest struct {
	SessionID string `json:"session_id"`
	CaseID    string `json:"case_id"`
	Messages  []Turn `json:"messages"`
}

// ServerConfig holds runtime parameters of the provider API set via CLI flags.
type ServerConfig struct {
	CasesDir       string
	Temperature    float32 // sampling temperature for patient replies
	MaxHistory     int     // 0 keeps the whole conversation in the patient prompt
	RequestTimeout time.Duration
}
