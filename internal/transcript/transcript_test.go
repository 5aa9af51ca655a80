package transcript

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/session"
)

func newTestStore(t *testing.T) (*Store, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage(0)
	return NewStore(storage), storage
}

func TestAppendKeepsOrder(t *testing.T) {
	s, _ := newTestStore(t)
	tok := session.NewToken()

	turns := []model.Turn{
		model.PatientTurn("Hello, I'm Maria."),
		model.LearnerTurn("How long have you had this pain?"),
		model.PatientTurn("About two weeks."),
		model.LearnerTurn("How long have you had this pain?"),
	}
	for i, turn := range turns {
		if err := s.Append(tok, turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
		got := s.Snapshot(tok)
		if len(got) != i+1 {
			t.Fatalf("expected %d turns, got %d", i+1, len(got))
		}
		// Earlier turns never move.
		if !reflect.DeepEqual(got, turns[:i+1]) {
			t.Fatalf("snapshot after %d appends = %+v", i+1, got)
		}
	}
	if s.Len(tok) != 4 {
		t.Errorf("Len() = %d, want 4 (no dedup)", s.Len(tok))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	tok := session.NewToken()
	_ = s.Append(tok, model.PatientTurn("hi"))

	snap := s.Snapshot(tok)
	snap[0].Content = "changed"

	if got := s.Snapshot(tok)[0].Content; got != "hi" {
		t.Errorf("mutating a snapshot changed the store: %q", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	a, b := session.NewToken(), session.NewToken()
	_ = s.Append(a, model.PatientTurn("for a"))

	if got := s.Snapshot(b); len(got) != 0 {
		t.Errorf("session b sees %d turns from session a", len(got))
	}
	ctx := context.Background()
	if err := s.Persist(ctx, a); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok, _ := s.Restore(ctx, b); ok {
		t.Error("session b restored session a's transcript")
	}
}

func TestFrozenRejectsAppend(t *testing.T) {
	s, _ := newTestStore(t)
	tok := session.NewToken()
	_ = s.Append(tok, model.PatientTurn("hi"))
	s.Freeze(tok)

	if !s.Frozen(tok) {
		t.Fatal("expected transcript to be frozen")
	}
	err := s.Append(tok, model.LearnerTurn("late"))
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if s.Len(tok) != 1 {
		t.Errorf("frozen transcript grew to %d turns", s.Len(tok))
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	s, storage := newTestStore(t)
	ctx := context.Background()
	tok := session.NewToken()

	_ = s.Append(tok, model.PatientTurn("Hello"))
	_ = s.Append(tok, model.LearnerTurn("Hi there"))
	if err := s.Persist(ctx, tok); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Overwritten wholesale on the next persist.
	_ = s.Append(tok, model.PatientTurn("Thanks"))
	if err := s.Persist(ctx, tok); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, ok, err := s.Restore(ctx, tok)
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, s.Snapshot(tok)) {
		t.Errorf("restored %+v, want %+v", got, s.Snapshot(tok))
	}

	raw, ok, _ := storage.Get(ctx, "messages_"+string(tok))
	if !ok {
		t.Fatal("expected transcript under messages_<token>")
	}
	want := `[{"role":"assistant","content":"Hello"},{"role":"user","content":"Hi there"},{"role":"assistant","content":"Thanks"}]`
	if string(raw) != want {
		t.Errorf("stored %s, want %s", raw, want)
	}
}

func TestRestoreAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	got, ok, err := s.Restore(context.Background(), session.NewToken())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ok || got != nil {
		t.Errorf("expected absent, got ok=%v turns=%v", ok, got)
	}
}

func TestRestoreCorrupt(t *testing.T) {
	s, storage := newTestStore(t)
	ctx := context.Background()
	tok := session.NewToken()
	_ = storage.Put(ctx, Key(tok), []byte("{not json"))

	if _, _, err := s.Restore(ctx, tok); err == nil {
		t.Error("expected decode error")
	}
}

func TestDiscard(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tok := session.NewToken()
	_ = s.Append(tok, model.PatientTurn("hi"))
	_ = s.Persist(ctx, tok)

	if err := s.Discard(ctx, tok); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if s.Len(tok) != 0 {
		t.Error("live transcript survived Discard")
	}
	if _, ok, _ := s.Restore(ctx, tok); ok {
		t.Error("persisted transcript survived Discard")
	}
}

func TestMemoryStorageTTL(t *testing.T) {
	m := NewMemoryStorage(time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_ = m.Put(ctx, "a", []byte("1"))
	_ = m.Put(ctx, "b", []byte("2"))

	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatal("fresh entry should be readable")
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("expired entry should read as absent")
	}
	if n := m.PurgeExpired(); n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
}
