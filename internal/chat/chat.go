// Package chat keeps server-side conversation memory and produces patient
// replies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavelanni/simpatient/internal/events"
	"github.com/pavelanni/simpatient/internal/model"
)

// CaseSource resolves case identifiers.
type CaseSource interface {
	Get(ctx context.Context, id string) (model.Case, error)
}

// PatientModel generates the patient's next line.
type PatientModel interface {
	PatientReply(ctx context.Context, cs model.Case, history []model.Turn, message string) (string, error)
}

type conversation struct {
	mu     sync.Mutex
	caseID string
	turns  []model.Turn

	// touched is read by PurgeIdle without taking mu, which Send holds
	// across the model call.
	touched atomic.Int64
}

func (c *conversation) touch(t time.Time) { c.touched.Store(t.UnixNano()) }

func (c *conversation) idleSince(cutoff time.Time) bool {
	return c.touched.Load() < cutoff.UnixNano()
}

// Service holds one conversation per session.
type Service struct {
	cases     CaseSource
	llm       PatientModel
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// New creates a chat service. A nil publisher discards events.
func New(cases CaseSource, llm PatientModel, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cases:     cases,
		llm:       llm,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		convs:     make(map[string]*conversation),
	}
}

// Send records message from the learner and returns the patient's reply.
// Messages for one session are answered one at a time. If the session is
// already bound to another case its memory is started afresh.
func (s *Service) Send(ctx context.Context, sessionID, caseID, message string) (string, error) {
	cs, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return "", err
	}

	conv := s.conversation(sessionID, caseID)
	conv.touch(s.now())
	conv.mu.Lock()
	defer conv.mu.Unlock()

	reply, err := s.llm.PatientReply(ctx, cs, conv.turns, message)
	if err != nil {
		s.logger.Error("patient reply failed", "session", sessionID, "case_id", caseID, "error", err)
		return "", fmt.Errorf("patient reply: %w", err)
	}
	conv.turns = append(conv.turns, model.LearnerTurn(message), model.PatientTurn(reply))
	conv.touch(s.now())
	return reply, nil
}

// End drops the session's conversation memory. Ending an unknown session is
// not an error.
func (s *Service) End(sessionID, caseID string) {
	s.mu.Lock()
	conv, ok := s.convs[sessionID]
	delete(s.convs, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	conv.mu.Lock()
	turns := len(conv.turns)
	conv.mu.Unlock()
	if caseID == "" {
		caseID = conv.caseID
	}
	s.logger.Info("conversation ended", "session", sessionID, "case_id", caseID, "turns", turns)
	_ = s.publisher.Publish(events.SubjectSessionEnded, events.SessionEnded{
		SessionID: sessionID,
		CaseID:    caseID,
		Turns:     turns,
		EndedAt:   s.now().UTC(),
	})
}

// History returns a copy of the session's conversation, or nil.
func (s *Service) History(sessionID string) []model.Turn {
	s.mu.Lock()
	conv, ok := s.convs[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]model.Turn(nil), conv.turns...)
}

// PurgeIdle drops conversations untouched for longer than maxIdle and returns
// how many were dropped.
func (s *Service) PurgeIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	var idle []string

	s.mu.Lock()
	for id, conv := range s.convs {
		if conv.idleSince(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	for _, id := range idle {
		s.End(id, "")
	}
	return len(idle)
}

func (s *Service) conversation(sessionID, caseID string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[sessionID]
	if !ok || conv.caseID != caseID {
		conv = &conversation{caseID: caseID}
		conv.touch(s.now())
		s.convs[sessionID] = conv
	}
	return conv
}
