package session

import (
	"strings"
	"sync"
	"time"
)

// Session holds the conversation state of one duplex connection.
// Turns are append-only and the Active -> Ended transition happens once.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.RWMutex
	turns        []Turn
	lastActivity time.Time
	ended        bool
	endedAt      time.Time
	summary      *string
	sentiment    *Sentiment
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AddTurn appends a turn stamped with the current time.
func (s *Session) AddTurn(role Role, text, language string) error {
	switch role {
	case RoleUser:
		if strings.TrimSpace(text) == "" {
			return ErrEmptyText
		}
	case RoleAssistant:
	default:
		return ErrInvalidRole
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrEnded
	}
	s.turns = append(s.turns, Turn{
		Role:      role,
		Text:      text,
		Language:  language,
		Timestamp: now,
	})
	s.lastActivity = now
	return nil
}

// History returns the ordered role/text projection of all turns.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.turns))
	for i, t := range s.turns {
		out[i] = Message{Role: t.Role, Text: t.Text}
	}
	return out
}

// Turns returns a copy of the recorded turns.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// End marks the session as ended. It reports whether this call performed
// the transition; later calls are no-ops.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.endedAt = time.Now().UTC()
	return true
}

func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

func (s *Session) Status() Status {
	if s.Ended() {
		return StatusEnded
	}
	return StatusActive
}

// EndedAt returns the end time, or the zero time while active.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// LastActivity is the time of the most recent turn, or creation.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetAnalysis records the end-of-session summary and sentiment. It may be
// called once, and only after End.
func (s *Session) SetAnalysis(summary string, sentiment Sentiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return ErrNotEnded
	}
	if s.summary != nil {
		return ErrAnalysisRecorded
	}
	s.summary = &summary
	s.sentiment = &sentiment
	return nil
}

func (s *Session) Summary() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return "", false
	}
	return *s.summary, true
}

func (s *Session) Sentiment() (Sentiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sentiment == nil {
		return Sentiment{}, false
	}
	return *s.sentiment, true
}

func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		SessionID:      s.id,
		Status:         StatusActive,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		TurnCount:      len(s.turns),
		Turns:          make([]Turn, len(s.turns)),
	}
	copy(v.Turns, s.turns)
	if s.ended {
		v.Status = StatusEnded
		endedAt := s.endedAt
		v.EndedAt = &endedAt
	}
	if s.summary != nil {
		v.Summary = *s.summary
	}
	if s.sentiment != nil {
		sentiment := *s.sentiment
		v.Sentiment = &sentiment
	}
	return v
}
