package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/session"
	"github.com/pavelanni/simpatient/internal/transcript"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v2" {
		t.Errorf("expected last write to win, got %q", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key survived Delete")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestKeyValueTTL(t *testing.T) {
	s := newTestStore(t, WithTTL(time.Hour))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Put(ctx, "a", []byte("1"))
	_ = s.Put(ctx, "b", []byte("2"))
	now = now.Add(30 * time.Minute)
	_ = s.Put(ctx, "c", []byte("3"))

	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatal("entry should be readable within its TTL")
	}

	now = now.Add(45 * time.Minute)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("expired entry should read as absent")
	}
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1 (b)", n)
	}
	if _, ok, _ := s.Get(ctx, "c"); !ok {
		t.Error("unexpired entry was purged")
	}
}

func TestTranscriptSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	tok := session.NewToken()

	s1, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := transcript.NewStore(s1)
	_ = ts.Append(tok, model.PatientTurn("Hello"))
	_ = ts.Append(tok, model.LearnerTurn("Hi"))
	if err := ts.Persist(ctx, tok); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	turns, ok, err := transcript.NewStore(s2).Restore(ctx, tok)
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
	if len(turns) != 2 || turns[1].Content != "Hi" {
		t.Errorf("restored %+v", turns)
	}
}

func testRecord(sessionID, caseID string, overall float64) model.EvaluationRecord {
	return model.EvaluationRecord{
		SessionID:   sessionID,
		CaseID:      caseID,
		PatientName: "Maria",
		EvaluatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Transcript: []model.Turn{
			model.PatientTurn("Hello"),
			model.LearnerTurn("Hi"),
		},
		Result: model.EvaluationResult{
			SessionID: sessionID,
			CaseID:    caseID,
			Scores:    model.Scores{RapportBuilding: 7, OverallScore: overall},
			Strengths: []string{"Warm"},
			Feedback:  "ok",
		},
	}
}

func TestEvaluations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GetEvaluation(ctx, "s1")
	if err != nil || rec != nil {
		t.Fatalf("GetEvaluation on empty store: %+v, %v", rec, err)
	}

	if _, err := s.RecordEvaluation(ctx, testRecord("s1", "c1", 5)); err != nil {
		t.Fatalf("RecordEvaluation: %v", err)
	}
	if _, err := s.RecordEvaluation(ctx, testRecord("s1", "c1", 6)); err != nil {
		t.Fatalf("RecordEvaluation: %v", err)
	}
	if _, err := s.RecordEvaluation(ctx, testRecord("s2", "c2", 8)); err != nil {
		t.Fatalf("RecordEvaluation: %v", err)
	}

	rec, err = s.GetEvaluation(ctx, "s1")
	if err != nil || rec == nil {
		t.Fatalf("GetEvaluation: %+v, %v", rec, err)
	}
	if rec.Result.Scores.OverallScore != 6 {
		t.Errorf("expected latest evaluation, got overall %g", rec.Result.Scores.OverallScore)
	}
	if len(rec.Transcript) != 2 || rec.Transcript[0].Role != model.RolePatient {
		t.Errorf("transcript = %+v", rec.Transcript)
	}
	if !rec.EvaluatedAt.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)) {
		t.Errorf("evaluated_at = %v", rec.EvaluatedAt)
	}

	count, err := s.EvaluationCount(ctx)
	if err != nil || count != 3 {
		t.Errorf("EvaluationCount = %d, %v", count, err)
	}
}

func TestExportEvaluations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RecordEvaluation(ctx, testRecord("s1", "c1", 5))
	_, _ = s.RecordEvaluation(ctx, testRecord("s2", "c2", 8))

	all, err := s.ExportEvaluations(ctx, "")
	if err != nil {
		t.Fatalf("ExportEvaluations: %v", err)
	}
	if all.Count != 2 || len(all.Results) != 2 || all.Results[0].SessionID != "s1" {
		t.Errorf("export = %+v", all)
	}

	only, err := s.ExportEvaluations(ctx, "c2")
	if err != nil {
		t.Fatalf("ExportEvaluations: %v", err)
	}
	if only.Count != 1 || only.Results[0].CaseID != "c2" {
		t.Errorf("filtered export = %+v", only)
	}

	empty, _ := s.ExportEvaluations(ctx, "none")
	data, _ := json.Marshal(empty)
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	if results, ok := decoded["results"].([]any); !ok || len(results) != 0 {
		t.Errorf("empty export should have an empty results array, got %s", data)
	}
}
