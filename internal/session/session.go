package session

import (
	"time"

	"github.com/google/uuid"
)

// Token identifies one interview attempt.
type Token string

func (t Token) String() string { return string(t) }

// NewToken mints a fresh random session token.
func NewToken() Token {
	return Token(uuid.NewString())
}

// Session binds a token to the case being interviewed.
type Session struct {
	token     Token
	caseID    string
	createdAt time.Time
}

// New creates a session for caseID with a fresh token.
func New(caseID string) Session {
	return Session{token: NewToken(), caseID: caseID, createdAt: time.Now()}
}

// Resume rebuilds a session from a token minted earlier.
func Resume(token Token, caseID string) Session {
	return Session{token: token, caseID: caseID}
}

func (s Session) Token() Token         { return s.token }
func (s Session) CaseID() string       { return s.caseID }
func (s Session) CreatedAt() time.Time { return s.createdAt }
