package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/logging"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/recognition"
	"github.com/ent0n29/livevoice/internal/reliability"
	"github.com/ent0n29/livevoice/internal/session"
	"github.com/ent0n29/livevoice/internal/synthesis"
)

var errEmptyReply = errors.New("responder returned an empty reply")

// StageError reports which pipeline stage failed for one chunk.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// TurnResult is everything one chunk produced. Reply and Audio are empty when
// nothing was recognized.
type TurnResult struct {
	Transcript recognition.Transcript
	Reply      string
	Audio      synthesis.Audio
}

// Spoke reports whether the chunk yielded a full user/assistant exchange.
func (r TurnResult) Spoke() bool { return r.Reply != "" }

// Pipeline runs transcode, recognize, respond and synthesize for a single
// chunk against one session.
type Pipeline struct {
	transcoder  Transcoder
	recognizer  Recognizer
	responder   Responder
	synthesizer Synthesizer
	metrics     *observability.Metrics
}

func NewPipeline(t Transcoder, rec Recognizer, resp Responder, synth Synthesizer, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		transcoder:  t,
		recognizer:  rec,
		responder:   resp,
		synthesizer: synth,
		metrics:     metrics,
	}
}

// Process handles one audio chunk. The user turn is recorded as soon as text
// is recognized; the assistant turn only once its audio exists. Failures are
// returned as *StageError.
func (p *Pipeline) Process(ctx context.Context, s *session.Session, chunk []byte, logger zerolog.Logger) (TurnResult, error) {
	started := time.Now()
	var res TurnResult

	pcm, err := runStage(ctx, p.metrics, observability.StageTranscode, func(ctx context.Context) ([]byte, error) {
		return p.transcoder.ToPCM(ctx, chunk)
	})
	if err != nil {
		return res, err
	}

	transcript, err := runStage(ctx, p.metrics, observability.StageRecognize, func(ctx context.Context) (recognition.Transcript, error) {
		return p.recognizer.Transcribe(ctx, pcm)
	})
	if err != nil {
		return res, err
	}
	if transcript.Retried {
		p.metrics.ObserveIndicator("recognition_retry")
	}
	transcript.Text = strings.TrimSpace(transcript.Text)
	res.Transcript = transcript
	if transcript.Text == "" {
		logger.Debug().Int("pcm_bytes", len(pcm)).Msg("no speech recognized")
		return res, nil
	}
	logger.Info().
		Str("language", transcript.Language).
		Str("text", logging.Transcript(transcript.Text)).
		Msg("user utterance")

	history := s.History()
	if err := s.AddTurn(session.RoleUser, transcript.Text, transcript.Language); err != nil {
		return res, &StageError{Stage: observability.StageRecognize, Err: fmt.Errorf("record user turn: %w", err)}
	}

	reply, err := runStage(ctx, p.metrics, observability.StageRespond, func(ctx context.Context) (string, error) {
		out, err := p.responder.Respond(ctx, transcript.Text, history, transcript.Language)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyReply
		}
		return strings.TrimSpace(out), err
	})
	if err != nil {
		return res, err
	}

	spoken, err := runStage(ctx, p.metrics, observability.StageSynthesize, func(ctx context.Context) (synthesis.Audio, error) {
		return p.synthesizer.Synthesize(ctx, speakable(reply), transcript.Language)
	})
	if err != nil {
		return res, err
	}

	if err := s.AddTurn(session.RoleAssistant, reply, transcript.Language); err != nil {
		return res, &StageError{Stage: observability.StageSynthesize, Err: fmt.Errorf("record assistant turn: %w", err)}
	}
	res.Reply = reply
	res.Audio = spoken

	p.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	logger.Info().
		Str("reply", logging.Transcript(reply)).
		Int("audio_bytes", len(spoken.Data)).
		Str("audio_format", spoken.Format).
		Dur("turn_ms", time.Since(started)).
		Msg("assistant reply")
	return res, nil
}

// runStage times fn, counts provider errors, and wraps failures in *StageError.
func runStage[T any](ctx context.Context, metrics *observability.Metrics, name string, fn func(context.Context) (T, error)) (T, error) {
	started := time.Now()
	out, err := fn(ctx)
	metrics.ObserveStage(name, time.Since(started))
	if err != nil {
		metrics.ObserveProviderError(name, reliability.Code(err))
		var zero T
		return zero, &StageError{Stage: name, Err: err}
	}
	return out, nil
}
