package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/session"
	"github.com/pavelanni/simpatient/internal/transcript"
)

// State is the orchestrator's position in the turn-taking protocol.
type State string

const (
	StateIdle             State = "idle"
	StateLoading          State = "loading"
	StateActive           State = "active"
	StateAwaitingResponse State = "awaiting_response"
	StateEnded            State = "ended"
)

// CaseProvider resolves case identifiers.
type CaseProvider interface {
	GetCase(ctx context.Context, id string) (model.Case, error)
}

// ResponseProvider produces the simulated patient's reply to a learner message.
type ResponseProvider interface {
	Respond(ctx context.Context, sessionID, caseID, message string) (string, error)
}

// Handoff is what an ended interview passes on to evaluation.
type Handoff struct {
	Token      session.Token
	CaseID     string
	Transcript []model.Turn
}

// Orchestrator drives one interview session.
type Orchestrator struct {
	sess        session.Session
	cases       CaseProvider
	responder   ResponseProvider
	transcripts *transcript.Store
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	caseData *model.Case
	failed   []int
	closed   bool
}

// New creates an idle orchestrator for sess.
func New(sess session.Session, cases CaseProvider, responder ResponseProvider, transcripts *transcript.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sess:        sess,
		cases:       cases,
		responder:   responder,
		transcripts: transcripts,
		logger:      logger.With("session", sess.Token().String(), "case_id", sess.CaseID()),
		state:       StateIdle,
	}
}

// Greeting is the opening line the patient says once the case is loaded.
func Greeting(c model.Case) string {
	return fmt.Sprintf("Hello, I'm %s. I'm here today because %s. How can I help you understand my situation?",
		c.PatientName, strings.ToLower(c.ChiefComplaint))
}

// Open loads the session's case and starts the interview with the patient's greeting.
// If the case cannot be loaded the orchestrator stays idle.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("open in state %s: %w", st, model.ErrInvalidState)
	}
	o.state = StateLoading
	o.mu.Unlock()

	c, err := o.cases.GetCase(ctx, o.sess.CaseID())

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("interview closed while loading: %w", model.ErrInvalidState)
	}
	if err != nil {
		o.state = StateIdle
		o.logger.Warn("case load failed", "error", err)
		return fmt.Errorf("load case %s: %w", o.sess.CaseID(), err)
	}

	if err := o.transcripts.Append(o.sess.Token(), model.PatientTurn(Greeting(c))); err != nil {
		o.state = StateIdle
		return fmt.Errorf("append greeting: %w", err)
	}
	o.caseData = &c
	o.state = StateActive
	o.persistLocked(ctx)
	o.logger.Info("interview started", "patient", c.PatientName)
	return nil
}

// Submit sends a learner message and waits for the patient's reply.
//
// Empty input, or input while a reply is still pending, is ignored: Submit
// returns nil, nil and nothing changes. The learner's turn is recorded before
// the provider is called and stays in the transcript if the call fails.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*model.Turn, error) {
	msg := strings.TrimSpace(text)

	o.mu.Lock()
	switch o.state {
	case StateActive:
	case StateAwaitingResponse:
		o.mu.Unlock()
		o.logger.Debug("submission ignored, reply pending")
		return nil, nil
	default:
		st := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("submit in state %s: %w", st, model.ErrInvalidState)
	}
	if msg == "" {
		o.mu.Unlock()
		return nil, nil
	}
	tok := o.sess.Token()
	if err := o.transcripts.Append(tok, model.LearnerTurn(msg)); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	idx := o.transcripts.Len(tok) - 1
	o.state = StateAwaitingResponse
	o.persistLocked(ctx)
	o.mu.Unlock()

	reply, err := o.responder.Respond(ctx, tok.String(), o.sess.CaseID(), msg)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.logger.Info("dropping patient reply for closed interview")
		return nil, fmt.Errorf("interview closed while awaiting reply: %w", model.ErrInvalidState)
	}
	o.state = StateActive
	if err != nil {
		o.failed = append(o.failed, idx)
		o.logger.Warn("patient reply failed", "turn", idx, "error", err)
		var pe *model.ProviderError
		if !errors.As(err, &pe) {
			err = &model.ProviderError{Op: "respond", Err: err}
		}
		return nil, err
	}

	turn := model.PatientTurn(reply)
	if err := o.transcripts.Append(tok, turn); err != nil {
		return nil, err
	}
	o.persistLocked(ctx)
	return &turn, nil
}

// End finishes the interview and freezes its transcript for evaluation.
func (o *Orchestrator) End(ctx context.Context) (Handoff, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateActive {
		return Handoff{}, fmt.Errorf("end in state %s: %w", o.state, model.ErrInvalidState)
	}
	tok := o.sess.Token()
	if o.transcripts.Len(tok) <= 1 {
		return Handoff{}, model.ErrInsufficientTurns
	}
	o.transcripts.Freeze(tok)
	o.state = StateEnded
	o.persistLocked(ctx)
	attrs := []any{"turns", o.transcripts.Len(tok)}
	if started := o.sess.CreatedAt(); !started.IsZero() {
		attrs = append(attrs, "duration", time.Since(started).Round(time.Second))
	}
	o.logger.Info("interview ended", attrs...)
	return Handoff{
		Token:      tok,
		CaseID:     o.sess.CaseID(),
		Transcript: o.transcripts.Snapshot(tok),
	}, nil
}

// Close abandons the session and removes its stored transcript. It is safe to
// call in any state; a reply still in flight is dropped when it arrives.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.state = StateEnded
	o.mu.Unlock()
	return o.transcripts.Discard(ctx, o.sess.Token())
}

// State returns the current protocol state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns the session being interviewed.
func (o *Orchestrator) Session() session.Session { return o.sess }

// Case returns the loaded case, if any.
func (o *Orchestrator) Case() (model.Case, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.caseData == nil {
		return model.Case{}, false
	}
	return *o.caseData, true
}

// Transcript returns a copy of the current transcript.
func (o *Orchestrator) Transcript() []model.Turn {
	return o.transcripts.Snapshot(o.sess.Token())
}

// FailedTurns returns the indexes of learner turns whose reply failed.
func (o *Orchestrator) FailedTurns() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.failed...)
}

func (o *Orchestrator) persistLocked(ctx context.Context) {
	if err := o.transcripts.Persist(ctx, o.sess.Token()); err != nil {
		o.logger.Warn("persist transcript failed", "error", err)
	}
}
