// Package prompts renders the LLM prompts for patient simulation and scoring
// from embedded text templates.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/simpatient/internal/model"
)

//go:embed templates/*.txt
var embedded embed.FS

const (
	patientFile    = "templates/patient.txt"
	evaluationFile = "templates/evaluation.txt"

	maxInputRunes = 4000
)

var roleMarkerRegex = regexp.MustCompile(`(?im)^[ \t]*(system|patient|assistant)[ \t]*:`)

// Set is a parsed pair of patient and evaluation templates.
type Set struct {
	patient    *template.Template
	evaluation *template.Template
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded templates, parsed once.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load(embedded)
	})
	return defaultSet, defaultErr
}

// Load parses the templates from fsys, which must contain
// templates/patient.txt and templates/evaluation.txt.
func Load(fsys fs.FS) (*Set, error) {
	patient, err := parse(fsys, patientFile)
	if err != nil {
		return nil, err
	}
	evaluation, err := parse(fsys, evaluationFile)
	if err != nil {
		return nil, err
	}
	return &Set{patient: patient, evaluation: evaluation}, nil
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// PatientData holds template data for the patient system prompt.
type PatientData struct {
	PatientName    string
	Age            int
	Gender         string
	ChiefComplaint string
	Condition      string
	Background     string
	Symptoms       string
	MedicalHistory string
}

// EvaluationData holds template data for the evaluation prompt.
type EvaluationData struct {
	CaseSummary string
	Transcript  string
}

// Patient renders the system prompt that puts the model in the patient's role.
func (s *Set) Patient(c model.Case) (string, error) {
	if s == nil || s.patient == nil {
		return "", errors.New("templates not initialized")
	}
	data := PatientData{
		PatientName:    orUnknown(c.PatientName),
		Age:            c.Age,
		Gender:         orUnknown(c.Gender),
		ChiefComplaint: c.ChiefComplaint,
		Condition:      c.Condition,
		Background:     c.Background,
		Symptoms:       c.Symptoms,
		MedicalHistory: c.MedicalHistory,
	}
	var buf bytes.Buffer
	if err := s.patient.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Evaluation renders the scoring prompt for a case and transcript.
func (s *Set) Evaluation(c model.Case, turns []model.Turn) (string, error) {
	if s == nil || s.evaluation == nil {
		return "", errors.New("templates not initialized")
	}
	data := EvaluationData{
		CaseSummary: CaseSummary(c),
		Transcript:  FormatTranscript(turns),
	}
	var buf bytes.Buffer
	if err := s.evaluation.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CaseSummary condenses a case for the evaluator.
func CaseSummary(c model.Case) string {
	age := "Unknown"
	if c.Age > 0 {
		age = fmt.Sprint(c.Age)
	}
	return fmt.Sprintf("Patient: %s, %s year old %s\nCondition: %s\nChief Complaint: %s\nKey Symptoms: %s",
		orUnknown(c.PatientName), age, orUnknown(c.Gender),
		orUnknown(c.Condition), orUnknown(c.ChiefComplaint), orUnknown(c.Symptoms))
}

// FormatTranscript renders turns as "Student:" and "Patient:" paragraphs.
// Turns with any other role are skipped.
func FormatTranscript(turns []model.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		switch t.Role {
		case model.RoleLearner:
			sb.WriteString("Student: " + t.Content + "\n\n")
		case model.RolePatient:
			sb.WriteString("Patient: " + t.Content + "\n\n")
		}
	}
	return sb.String()
}

// SanitizeInput trims a learner message, defuses lines that try to speak for
// the patient or the system, and caps its length.
func SanitizeInput(input string) string {
	input = roleMarkerRegex.ReplaceAllString(input, "$1 -")
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) > maxInputRunes {
		runes := []rune(input)
		input = string(runes[:maxInputRunes]) + " [message truncated]"
	}
	return input
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
