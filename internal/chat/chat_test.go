package chat

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/simpatient/internal/events"
	"github.com/pavelanni/simpatient/internal/model"
)

type fakeCases map[string]model.Case

func (f fakeCases) Get(_ context.Context, id string) (model.Case, error) {
	c, ok := f[id]
	if !ok {
		return model.Case{}, model.ErrCaseNotFound
	}
	return c, nil
}

type fakeLLM struct {
	mu        sync.Mutex
	histories [][]model.Turn
	err       error
}

func (f *fakeLLM) PatientReply(_ context.Context, cs model.Case, history []model.Turn, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, append([]model.Turn(nil), history...))
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s answers %q", cs.PatientName, message), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
	return nil
}

var testCases = fakeCases{
	"c1": {ID: "c1", PatientName: "Maria"},
	"c2": {ID: "c2", PatientName: "Tom"},
}

func TestSendKeepsHistory(t *testing.T) {
	llm := &fakeLLM{}
	svc := New(testCases, llm, nil, nil)
	ctx := context.Background()

	r1, err := svc.Send(ctx, "s1", "c1", "Hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if r1 != `Maria answers "Hi"` {
		t.Errorf("reply = %q", r1)
	}
	if _, err := svc.Send(ctx, "s1", "c1", "How are you?"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(llm.histories[0]) != 0 {
		t.Errorf("first call history = %+v", llm.histories[0])
	}
	want := []model.Turn{model.LearnerTurn("Hi"), model.PatientTurn(r1)}
	if !reflect.DeepEqual(llm.histories[1], want) {
		t.Errorf("second call history = %+v, want %+v", llm.histories[1], want)
	}
	if got := svc.History("s1"); len(got) != 4 {
		t.Errorf("History() has %d turns, want 4", len(got))
	}
	if got := svc.History("other"); got != nil {
		t.Errorf("unknown session history = %+v", got)
	}
}

func TestSendUnknownCase(t *testing.T) {
	svc := New(testCases, &fakeLLM{}, nil, nil)
	_, err := svc.Send(context.Background(), "s1", "nope", "Hi")
	if !errors.Is(err, model.ErrCaseNotFound) {
		t.Fatalf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestSendFailureLeavesMemoryUntouched(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	svc := New(testCases, llm, nil, nil)

	if _, err := svc.Send(context.Background(), "s1", "c1", "Hi"); err == nil {
		t.Fatal("expected error")
	}
	if got := svc.History("s1"); len(got) != 0 {
		t.Errorf("failed send recorded %d turns", len(got))
	}
}

func TestCaseSwitchResetsMemory(t *testing.T) {
	svc := New(testCases, &fakeLLM{}, nil, nil)
	ctx := context.Background()
	_, _ = svc.Send(ctx, "s1", "c1", "Hi")
	_, _ = svc.Send(ctx, "s1", "c2", "Hello")

	got := svc.History("s1")
	if len(got) != 2 || got[1].Content != `Tom answers "Hello"` {
		t.Errorf("History() = %+v", got)
	}
}

func TestEndPublishesAndDrops(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(testCases, &fakeLLM{}, pub, nil)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, _ = svc.Send(context.Background(), "s1", "c1", "Hi")
	svc.End("s1", "c1")
	svc.End("s1", "c1")

	if svc.History("s1") != nil {
		t.Error("memory survived End")
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	want := events.SessionEnded{SessionID: "s1", CaseID: "c1", Turns: 2, EndedAt: fixed}
	if pub.events[0] != want {
		t.Errorf("event = %+v, want %+v", pub.events[0], want)
	}
}

func TestPurgeIdle(t *testing.T) {
	svc := New(testCases, &fakeLLM{}, nil, nil)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = svc.Send(ctx, "old", "c1", "Hi")
	now = now.Add(2 * time.Hour)
	_, _ = svc.Send(ctx, "fresh", "c1", "Hi")

	if n := svc.PurgeIdle(time.Hour); n != 1 {
		t.Errorf("PurgeIdle() = %d, want 1", n)
	}
	if svc.History("old") != nil || svc.History("fresh") == nil {
		t.Error("wrong conversation purged")
	}
}

type blockingLLM struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLLM) PatientReply(ctx context.Context, _ model.Case, _ []model.Turn, _ string) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "finally", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestPurgeIdleDoesNotWaitForPendingReply(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := New(testCases, llm, nil, nil)
	ctx := context.Background()

	sent := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "busy", "c1", "Hi")
		sent <- err
	}()
	<-llm.started
	defer close(llm.release)

	purged := make(chan int, 1)
	go func() { purged <- svc.PurgeIdle(time.Hour) }()
	select {
	case n := <-purged:
		if n != 0 {
			t.Errorf("PurgeIdle() = %d, want 0 for an active conversation", n)
		}
	case <-time.After(time.Second):
		t.Fatal("PurgeIdle blocked on a reply in flight")
	}

	history := make(chan []model.Turn, 1)
	go func() { history <- svc.History("unrelated") }()
	select {
	case h := <-history:
		if h != nil {
			t.Errorf("History(unrelated) = %+v, want nil", h)
		}
	case <-time.After(time.Second):
		t.Fatal("History of another session blocked on a reply in flight")
	}
}

func TestPurgeIdleSkipsConversationTouchedBySend(t *testing.T) {
	svc := New(testCases, &fakeLLM{}, nil, nil)
	var mu sync.Mutex
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	ctx := context.Background()

	_, _ = svc.Send(ctx, "s1", "c1", "Hi")
	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	_, _ = svc.Send(ctx, "s1", "c1", "Still here")

	if n := svc.PurgeIdle(time.Hour); n != 0 {
		t.Errorf("PurgeIdle() = %d, want 0", n)
	}
	if got := len(svc.History("s1")); got != 4 {
		t.Errorf("history has %d turns, want 4", got)
	}
}
