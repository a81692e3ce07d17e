package session

import (
	"errors"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the connection-scoped lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrEnded            = errors.New("session has ended")
	ErrNotEnded         = errors.New("session has not ended")
	ErrEmptyText        = errors.New("turn text is empty")
	ErrInvalidRole      = errors.New("invalid turn role")
	ErrAnalysisRecorded = errors.New("session analysis already recorded")
)

// Turn is one immutable utterance in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is the role/text projection of a turn handed to text models.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Sentiment is the end-of-session verdict produced by the analyzer.
type Sentiment struct {
	Overall string  `json:"overall"`
	Score   float64 `json:"score"`
	Details string  `json:"details"`
}

// View is a point-in-time copy of a session used by the HTTP inspection API.
type View struct {
	SessionID      string     `json:"session_id"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TurnCount      int        `json:"turn_count"`
	Turns          []Turn     `json:"turns"`
	Summary        string     `json:"summary,omitempty"`
	Sentiment      *Sentiment `json:"sentiment,omitempty"`
}
