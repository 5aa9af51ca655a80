package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/session"
)

// KeyPrefix prefixes the storage key of every persisted transcript.
const KeyPrefix = "messages_"

// Key returns the storage key for a session's transcript.
func Key(tok session.Token) string {
	return KeyPrefix + string(tok)
}

// Storage is a key/value store for serialized transcripts.
type Storage interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

type entry struct {
	turns  []model.Turn
	frozen bool
}

// Store holds the live transcripts of sessions and persists them to a Storage.
type Store struct {
	storage Storage

	mu   sync.RWMutex
	logs map[session.Token]*entry
}

// NewStore creates a Store backed by storage.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage, logs: make(map[session.Token]*entry)}
}

// Append adds turn to the end of the session's transcript.
func (s *Store) Append(tok session.Token, turn model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.logs[tok]
	if !ok {
		e = &entry{}
		s.logs[tok] = e
	}
	if e.frozen {
		return fmt.Errorf("append to frozen transcript: %w", model.ErrInvalidState)
	}
	e.turns = append(e.turns, turn)
	return nil
}

// Snapshot returns a copy of the session's current transcript.
func (s *Store) Snapshot(tok session.Token) []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.logs[tok]
	if !ok {
		return nil
	}
	out := make([]model.Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

// Len returns the number of turns in the session's live transcript.
func (s *Store) Len(tok session.Token) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.logs[tok]; ok {
		return len(e.turns)
	}
	return 0
}

// Freeze makes the session's transcript read-only.
func (s *Store) Freeze(tok session.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.logs[tok]
	if !ok {
		e = &entry{}
		s.logs[tok] = e
	}
	e.frozen = true
}

// Frozen reports whether the session's transcript has been frozen.
func (s *Store) Frozen(tok session.Token) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.logs[tok]
	return ok && e.frozen
}

// Persist writes the whole live transcript to storage, replacing any earlier copy.
func (s *Store) Persist(ctx context.Context, tok session.Token) error {
	turns := s.Snapshot(tok)
	if turns == nil {
		turns = []model.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := s.storage.Put(ctx, Key(tok), data); err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}
	return nil
}

// Restore reads a previously persisted transcript. ok is false if none exists.
func (s *Store) Restore(ctx context.Context, tok session.Token) ([]model.Turn, bool, error) {
	data, ok, err := s.storage.Get(ctx, Key(tok))
	if err != nil {
		return nil, false, fmt.Errorf("restore transcript: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var turns []model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, false, fmt.Errorf("decode transcript: %w", err)
	}
	return turns, true, nil
}

// Discard drops the live transcript and its persisted copy.
func (s *Store) Discard(ctx context.Context, tok session.Token) error {
	s.mu.Lock()
	delete(s.logs, tok)
	s.mu.Unlock()
	if err := s.storage.Delete(ctx, Key(tok)); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}
