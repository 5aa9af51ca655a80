// Package scoring evaluates finished interviews on the server side.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/simpatient/internal/events"
	"github.com/pavelanni/simpatient/internal/llm"
	"github.com/pavelanni/simpatient/internal/metrics"
	"github.com/pavelanni/simpatient/internal/model"
)

// CaseSource resolves case identifiers.
type CaseSource interface {
	Get(ctx context.Context, id string) (model.Case, error)
}

// Evaluator asks the language model for a verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, cs model.Case, turns []model.Turn) (*llm.Evaluation, error)
}

// Recorder keeps successful evaluations.
type Recorder interface {
	RecordEvaluation(ctx context.Context, rec model.EvaluationRecord) (int64, error)
}

// Service scores transcripts.
type Service struct {
	cases     CaseSource
	evaluator Evaluator
	recorder  Recorder
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a scoring service. recorder and publisher may be nil.
func New(cases CaseSource, evaluator Evaluator, recorder Recorder, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cases:     cases,
		evaluator: evaluator,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate scores req. It always returns a result: when the case is unknown
// or the model fails, every score is zero and Error says why.
func (s *Service) Evaluate(ctx context.Context, req model.EvaluationRequest) model.EvaluationResult {
	logger := s.logger.With("session", req.SessionID, "case_id", req.CaseID)

	cs, err := s.cases.Get(ctx, req.CaseID)
	if err != nil {
		if errors.Is(err, model.ErrCaseNotFound) {
			return failed(req, "", fmt.Sprintf("Case %s not found", req.CaseID))
		}
		return failed(req, "", err.Error())
	}

	ev, err := s.evaluator.Evaluate(ctx, cs, req.Messages)
	if err != nil {
		logger.Error("evaluation failed", "error", err)
		if errors.Is(err, llm.ErrUnparseable) {
			return failed(req, "Error evaluating conversation", "Failed to parse evaluation")
		}
		return failed(req, "", err.Error())
	}

	m := metrics.Calculate(req.Messages)
	res := model.EvaluationResult{
		SessionID:           req.SessionID,
		CaseID:              req.CaseID,
		Scores:              ev.Scores,
		Strengths:           nonNil(ev.Strengths),
		AreasForImprovement: nonNil(ev.AreasForImprovement),
		Feedback:            ev.Feedback,
		Metrics:             &m,
	}
	logger.Info("evaluation complete", "overall_score", res.Scores.OverallScore, "turns", len(req.Messages))

	now := s.now().UTC()
	if s.recorder != nil {
		_, err := s.recorder.RecordEvaluation(ctx, model.EvaluationRecord{
			SessionID:   req.SessionID,
			CaseID:      req.CaseID,
			PatientName: cs.PatientName,
			EvaluatedAt: now,
			Transcript:  req.Messages,
			Result:      res,
		})
		if err != nil {
			logger.Warn("record evaluation failed", "error", err)
		}
	}
	_ = s.publisher.Publish(events.SubjectSessionEvaluated, events.SessionEvaluated{
		SessionID:    req.SessionID,
		CaseID:       req.CaseID,
		OverallScore: res.Scores.OverallScore,
		Turns:        len(req.Messages),
		EvaluatedAt:  now,
	})
	return res
}

func failed(req model.EvaluationRequest, feedback, reason string) model.EvaluationResult {
	return model.EvaluationResult{
		SessionID:           req.SessionID,
		CaseID:              req.CaseID,
		Strengths:           []string{},
		AreasForImprovement: []string{},
		Feedback:            feedback,
		Error:               reason,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
