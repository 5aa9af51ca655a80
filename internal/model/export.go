package model

import "time"

// EvaluationExport is the top-level JSON structure for evaluation export.
type EvaluationExport struct {
	ExportedAt time.Time          `json:"exported_at"`
	Count      int                `json:"count"`
	Results    []EvaluationRecord `json:"results"`
}

// EvaluationRecord is one stored evaluation with its transcript.
type EvaluationRecord struct {
	SessionID   string           `json:"session_id"`
	CaseID      string           `json:"case_id"`
	PatientName string           `json:"patient_name"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Transcript  []Turn           `json:"transcript"`
	Result      EvaluationResult `json:"result"`
}
