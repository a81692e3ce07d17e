package archive

import (
	"context"
	"time"

	"github.com/ent0n29/livevoice/internal/policy"
	"github.com/ent0n29/livevoice/internal/session"
)

// Turn is one archived utterance.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the transcript of one ended session.
type Record struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	Summary     string            `json:"summary"`
	Sentiment   session.Sentiment `json:"sentiment"`
	Turns       []Turn            `json:"turns"`
	PIIRedacted bool              `json:"pii_redacted"`
}

// Store persists ended-session transcripts. It is write-only from the
// gateway's point of view: sessions are never restored from it.
type Store interface {
	Save(ctx context.Context, record Record) error
	Close() error
}

// FromSession snapshots an ended session with PII redacted from every turn
// and from the summary.
func FromSession(s *session.Session) Record {
	view := s.Snapshot()
	rec := Record{
		SessionID: view.SessionID,
		StartedAt: view.CreatedAt,
		Turns:     make([]Turn, 0, len(view.Turns)),
	}
	if view.EndedAt != nil {
		rec.EndedAt = *view.EndedAt
	}
	if view.Sentiment != nil {
		rec.Sentiment = *view.Sentiment
	}
	var redacted bool
	rec.Summary, redacted = policy.RedactPII(view.Summary)
	rec.PIIRedacted = redacted
	for _, t := range view.Turns {
		text, r := policy.RedactPII(t.Text)
		rec.PIIRedacted = rec.PIIRedacted || r
		rec.Turns = append(rec.Turns, Turn{
			Role:      string(t.Role),
			Text:      text,
			Language:  t.Language,
			CreatedAt: t.Timestamp,
		})
	}
	return rec
}
