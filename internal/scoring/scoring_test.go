package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pavelanni/simpatient/internal/events"
	"github.com/pavelanni/simpatient/internal/llm"
	"github.com/pavelanni/simpatient/internal/model"
)

type fakeCases map[string]model.Case

func (f fakeCases) Get(_ context.Context, id string) (model.Case, error) {
	c, ok := f[id]
	if !ok {
		return model.Case{}, fmt.Errorf("case %q: %w", id, model.ErrCaseNotFound)
	}
	return c, nil
}

type fakeEvaluator struct {
	ev  *llm.Evaluation
	err error
}

func (f fakeEvaluator) Evaluate(context.Context, model.Case, []model.Turn) (*llm.Evaluation, error) {
	return f.ev, f.err
}

type fakeRecorder struct {
	records []model.EvaluationRecord
	err     error
}

func (f *fakeRecorder) RecordEvaluation(_ context.Context, rec model.EvaluationRecord) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.records = append(f.records, rec)
	return int64(len(f.records)), nil
}

type recordingPublisher struct {
	subjects []string
	data     []any
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.subjects = append(r.subjects, subject)
	r.data = append(r.data, data)
	return nil
}

var cases = fakeCases{"c1": {ID: "c1", PatientName: "Maria"}}

var transcript = []model.Turn{
	model.PatientTurn("Hello, I'm Maria."),
	model.LearnerTurn("Thank you for coming in. How is your sleep?"),
}

func TestEvaluateSuccess(t *testing.T) {
	ev := &llm.Evaluation{
		Scores:   model.Scores{RapportBuilding: 8, RiskAssessment: 3, OverallScore: 6},
		Feedback: "Good start.",
	}
	rec := &fakeRecorder{}
	pub := &recordingPublisher{}
	svc := New(cases, fakeEvaluator{ev: ev}, rec, pub, nil)
	fixed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	res := svc.Evaluate(context.Background(), model.EvaluationRequest{SessionID: "s1", CaseID: "c1", Messages: transcript})

	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.SessionID != "s1" || res.CaseID != "c1" || res.Scores.OverallScore != 6 {
		t.Errorf("result = %+v", res)
	}
	if res.Strengths == nil || res.AreasForImprovement == nil {
		t.Error("lists should be empty, not nil")
	}
	if res.Metrics == nil || *res.Metrics.TurnNumber != 2 || *res.Metrics.EmotionalTendency != 1 {
		t.Errorf("metrics = %+v", res.Metrics)
	}

	if len(rec.records) != 1 || rec.records[0].PatientName != "Maria" || len(rec.records[0].Transcript) != 2 {
		t.Errorf("records = %+v", rec.records)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != events.SubjectSessionEvaluated {
		t.Fatalf("published %v", pub.subjects)
	}
	want := events.SessionEvaluated{SessionID: "s1", CaseID: "c1", OverallScore: 6, Turns: 2, EvaluatedAt: fixed}
	if pub.data[0] != want {
		t.Errorf("event = %+v, want %+v", pub.data[0], want)
	}
}

func TestEvaluateFailures(t *testing.T) {
	tests := []struct {
		name         string
		caseID       string
		evaluator    fakeEvaluator
		wantError    string
		wantFeedback string
	}{
		{
			name:      "unknown case",
			caseID:    "c9",
			wantError: "Case c9 not found",
		},
		{
			name:         "unparseable",
			caseID:       "c1",
			evaluator:    fakeEvaluator{err: fmt.Errorf("%w: bad", llm.ErrUnparseable)},
			wantError:    "Failed to parse evaluation",
			wantFeedback: "Error evaluating conversation",
		},
		{
			name:      "api failure",
			caseID:    "c1",
			evaluator: fakeEvaluator{err: errors.New("LLM API call: timeout")},
			wantError: "LLM API call: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			pub := &recordingPublisher{}
			svc := New(cases, tt.evaluator, rec, pub, nil)

			res := svc.Evaluate(context.Background(), model.EvaluationRequest{SessionID: "s1", CaseID: tt.caseID, Messages: transcript})
			if res.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantError)
			}
			if res.Feedback != tt.wantFeedback {
				t.Errorf("Feedback = %q, want %q", res.Feedback, tt.wantFeedback)
			}
			if res.Scores != (model.Scores{}) {
				t.Errorf("scores should be zero, got %+v", res.Scores)
			}
			if res.Metrics != nil {
				t.Error("failed evaluation should carry no metrics")
			}
			if len(rec.records) != 0 || len(pub.subjects) != 0 {
				t.Error("failed evaluation was recorded or announced")
			}
		})
	}
}

func TestEvaluateRecorderFailureIsNotFatal(t *testing.T) {
	ev := &llm.Evaluation{Scores: model.Scores{OverallScore: 5}}
	svc := New(cases, fakeEvaluator{ev: ev}, &fakeRecorder{err: errors.New("disk full")}, nil, nil)

	res := svc.Evaluate(context.Background(), model.EvaluationRequest{SessionID: "s1", CaseID: "c1", Messages: transcript})
	if res.Error != "" || res.Scores.OverallScore != 5 {
		t.Errorf("result = %+v", res)
	}
}
