package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/session"
	"github.com/pavelanni/simpatient/internal/transcript"
)

// ScoringProvider scores a completed interview transcript.
type ScoringProvider interface {
	Evaluate(ctx context.Context, sessionID, caseID string, turns []model.Turn) (*model.EvaluationResult, error)
}

// DefaultTranscript is submitted when no transcript can be found for a session.
func DefaultTranscript() []model.Turn {
	return []model.Turn{
		model.LearnerTurn("Hello, can you tell me about your symptoms?"),
		model.PatientTurn("I have been experiencing chest pain."),
	}
}

// Source tells where the submitted transcript came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceRestored Source = "restored"
	SourceDefault  Source = "default"
)

// Requestor submits finished interviews for scoring.
type Requestor struct {
	scorer      ScoringProvider
	transcripts *transcript.Store
	fallback    []model.Turn
	logger      *slog.Logger

	group singleflight.Group
}

// Option configures a Requestor.
type Option func(*Requestor)

// WithFallback sets the transcript used when none is live or persisted.
// An empty fallback is ignored.
func WithFallback(turns []model.Turn) Option {
	return func(r *Requestor) {
		if len(turns) > 0 {
			r.fallback = append([]model.Turn(nil), turns...)
		}
	}
}

// WithLogger sets the requestor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Requestor) { r.logger = l }
}

// New creates a Requestor.
func New(scorer ScoringProvider, transcripts *transcript.Store, opts ...Option) *Requestor {
	r := &Requestor{
		scorer:      scorer,
		transcripts: transcripts,
		fallback:    DefaultTranscript(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Evaluate scores the session's transcript. Every call submits to the
// provider; concurrent calls for the same session and case share one
// submission. A caller whose ctx is done stops waiting without cancelling
// the submission for the others.
func (r *Requestor) Evaluate(ctx context.Context, tok session.Token, caseID string) (*model.EvaluationResult, error) {
	key := string(tok) + "\x00" + caseID
	ch := r.group.DoChan(key, func() (any, error) {
		return r.evaluate(context.WithoutCancel(ctx), tok, caseID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		r.logger.Debug("evaluation shared with concurrent caller", "session", tok.String(), "case_id", caseID)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	out := *res.Val.(*model.EvaluationResult)
	return &out, nil
}

func (r *Requestor) evaluate(ctx context.Context, tok session.Token, caseID string) (*model.EvaluationResult, error) {
	turns, src, err := r.Transcript(ctx, tok)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With("session", tok.String(), "case_id", caseID)
	logger.Info("requesting evaluation", "turns", len(turns), "source", src)

	res, err := r.scorer.Evaluate(ctx, tok.String(), caseID, turns)
	if err != nil {
		logger.Error("evaluation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", model.ErrEvaluationUnavailable, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", model.ErrEvaluationUnavailable)
	}
	if res.Error != "" {
		logger.Error("provider reported evaluation error", "error", res.Error)
		return nil, fmt.Errorf("%w: %s", model.ErrEvaluationUnavailable, res.Error)
	}
	if err := res.Scores.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEvaluationUnavailable, err)
	}
	logger.Info("evaluation received", "overall_score", res.Scores.OverallScore)
	return res, nil
}

// Transcript picks the transcript to submit: the live one (which is frozen),
// else the persisted one, else the fallback. It never returns an empty transcript.
func (r *Requestor) Transcript(ctx context.Context, tok session.Token) ([]model.Turn, Source, error) {
	if r.transcripts != nil {
		if turns := r.transcripts.Snapshot(tok); len(turns) > 0 {
			r.transcripts.Freeze(tok)
			return turns, SourceLive, nil
		}
		turns, ok, err := r.transcripts.Restore(ctx, tok)
		switch {
		case err != nil:
			r.logger.Warn("restore transcript failed, using fallback", "session", tok.String(), "error", err)
		case ok && len(turns) > 0:
			return turns, SourceRestored, nil
		}
	}
	if len(r.fallback) == 0 {
		return nil, "", errors.New("no transcript available")
	}
	return append([]model.Turn(nil), r.fallback...), SourceDefault, nil
}
