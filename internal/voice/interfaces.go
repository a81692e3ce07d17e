package voice

import (
	"context"

	"github.com/ent0n29/livevoice/internal/analysis"
	"github.com/ent0n29/livevoice/internal/recognition"
	"github.com/ent0n29/livevoice/internal/session"
	"github.com/ent0n29/livevoice/internal/synthesis"
)

// Transcoder converts one compressed client chunk to canonical PCM.
type Transcoder interface {
	ToPCM(ctx context.Context, chunk []byte) ([]byte, error)
}

type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte) (recognition.Transcript, error)
}

// Responder produces the assistant reply for one user utterance. history
// excludes the utterance itself.
type Responder interface {
	Respond(ctx context.Context, userText string, history []session.Message, language string) (string, error)
}

type Synthesizer = synthesis.Synthesizer

// Analyzer never fails; degraded results are folded into the returned value.
type Analyzer interface {
	Analyze(ctx context.Context, turns []session.Turn) analysis.Result
}
