package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/archive"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/protocol"
	"github.com/ent0n29/livevoice/internal/session"
)

const (
	msgConversionFailed = "Audio format conversion failed."
	msgProcessingError  = "Processing error. Please try again."
	msgSessionEnded     = "session has ended"
	msgUnsupportedType  = "unsupported message type"

	defaultMinChunkBytes  = 1000
	defaultArchiveTimeout = 5 * time.Second
)

type Config struct {
	// MinChunkBytes is the smallest chunk worth transcoding. Shorter chunks
	// get an empty transcription.
	MinChunkBytes  int
	ArchiveTimeout time.Duration
}

type Dependencies struct {
	Transcoder  Transcoder
	Recognizer  Recognizer
	Responder   Responder
	Synthesizer Synthesizer
	Analyzer    Analyzer
	// Archive is optional.
	Archive archive.Store
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Orchestrator drives one conversation per connection. Frames of a
// connection are handled strictly in arrival order; connections are
// independent of each other.
type Orchestrator struct {
	pipeline *Pipeline
	analyzer Analyzer
	archive  archive.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      Config

	archiveWG sync.WaitGroup
}

func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.MinChunkBytes <= 0 {
		cfg.MinChunkBytes = defaultMinChunkBytes
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = defaultArchiveTimeout
	}
	return &Orchestrator{
		pipeline: NewPipeline(deps.Transcoder, deps.Recognizer, deps.Responder, deps.Synthesizer, deps.Metrics),
		analyzer: deps.Analyzer,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "orchestrator").Logger(),
		cfg:      cfg,
	}
}

// RunConnection consumes inbound frames until the client ends the session,
// the inbound channel closes, or ctx is done. inbound carries
// protocol.ClientControl, protocol.AudioChunk, or an error from the reader;
// an error wrapping protocol.ErrUnsupportedType is reported to the client,
// any other error ends the connection. Everything sent to outbound is a
// protocol event or a protocol.AudioFrame.
//
// A connection that stops without end_session leaves its session Ended and
// unanalyzed.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	logger := o.logger.With().Str("session_id", s.ID()).Logger()
	o.metrics.ActiveSessions.Inc()
	defer o.metrics.ActiveSessions.Dec()
	o.metrics.SessionEvents.WithLabelValues("started").Inc()
	logger.Info().Msg("session started")

	if err := o.send(ctx, outbound, protocol.NewSessionStart(s.ID())); err != nil {
		o.abandon(s, logger, err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			o.abandon(s, logger, ctx.Err())
			return ctx.Err()
		case frame, ok := <-inbound:
			if !ok {
				o.abandon(s, logger, nil)
				return nil
			}
			done, err := o.handle(ctx, s, frame, outbound, logger)
			if err != nil {
				o.abandon(s, logger, err)
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// Wait blocks until background transcript archiving has finished.
func (o *Orchestrator) Wait() {
	o.archiveWG.Wait()
}

func (o *Orchestrator) handle(ctx context.Context, s *session.Session, frame any, outbound chan<- any, logger zerolog.Logger) (bool, error) {
	switch f := frame.(type) {
	case protocol.AudioChunk:
		return false, o.handleAudio(ctx, s, f.Data, outbound, logger)
	case protocol.ClientControl:
		switch f.Type {
		case protocol.TypePing:
			return false, o.send(ctx, outbound, protocol.NewPong())
		case protocol.TypeEndSession:
			return true, o.endSession(ctx, s, outbound, logger)
		default:
			return false, o.send(ctx, outbound, protocol.NewError(msgUnsupportedType))
		}
	case error:
		if errors.Is(f, protocol.ErrUnsupportedType) {
			logger.Debug().Err(f).Msg("ignoring unsupported control message")
			return false, o.send(ctx, outbound, protocol.NewError(msgUnsupportedType))
		}
		return false, f
	default:
		return false, fmt.Errorf("unexpected inbound frame %T", frame)
	}
}

func (o *Orchestrator) handleAudio(ctx context.Context, s *session.Session, chunk []byte, outbound chan<- any, logger zerolog.Logger) error {
	if s.Ended() {
		o.metrics.SessionEvents.WithLabelValues("audio_after_end").Inc()
		return o.send(ctx, outbound, protocol.NewError(msgSessionEnded))
	}
	if len(chunk) < o.cfg.MinChunkBytes {
		o.metrics.SessionEvents.WithLabelValues("chunk_too_small").Inc()
		return o.send(ctx, outbound, protocol.NewTranscription("", ""))
	}

	res, err := o.pipeline.Process(ctx, s, chunk, logger)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := msgProcessingError
		var stageErr *StageError
		switch {
		case errors.Is(err, session.ErrEnded):
			msg = msgSessionEnded
		case errors.As(err, &stageErr) && stageErr.Stage == observability.StageTranscode:
			msg = msgConversionFailed
		}
		logger.Error().Err(err).Int("chunk_bytes", len(chunk)).Msg("audio chunk failed")
		o.metrics.SessionEvents.WithLabelValues("pipeline_error").Inc()
		return o.send(ctx, outbound, protocol.NewError(msg))
	}

	if res.Transcript.Text == "" {
		// Nothing was heard, so there is no language to report either.
		return o.send(ctx, outbound, protocol.NewTranscription("", ""))
	}
	if err := o.send(ctx, outbound, protocol.NewTranscription(res.Transcript.Text, res.Transcript.Language)); err != nil {
		return err
	}
	if !res.Spoke() {
		return nil
	}
	if err := o.send(ctx, outbound, protocol.NewResponse(res.Reply)); err != nil {
		return err
	}
	return o.send(ctx, outbound, protocol.AudioFrame{Data: res.Audio.Data, Format: res.Audio.Format})
}

// endSession ends s, records its analysis once, archives the transcript in
// the background and emits the summary.
func (o *Orchestrator) endSession(ctx context.Context, s *session.Session, outbound chan<- any, logger zerolog.Logger) error {
	if s.End() {
		o.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}

	turns := s.Turns()
	started := time.Now()
	result := o.analyzer.Analyze(ctx, turns)
	o.metrics.ObserveStage(observability.StageAnalyze, time.Since(started))

	if err := s.SetAnalysis(result.Summary, result.Sentiment); err != nil {
		logger.Warn().Err(err).Msg("session analysis not recorded")
	}
	o.archiveBestEffort(ctx, s, logger)

	logger.Info().
		Int("turns", result.TurnCount).
		Str("sentiment", result.Sentiment.Overall).
		Strs("languages", result.LanguagesUsed).
		Msg("session ended")
	return o.send(ctx, outbound, protocol.NewSummary(
		result.Summary,
		protocol.Sentiment{
			Overall: result.Sentiment.Overall,
			Score:   result.Sentiment.Score,
			Details: result.Sentiment.Details,
		},
		result.TurnCount,
		result.LanguagesUsed,
	))
}

func (o *Orchestrator) archiveBestEffort(ctx context.Context, s *session.Session, logger zerolog.Logger) {
	if o.archive == nil {
		return
	}
	record := archive.FromSession(s)
	o.archiveWG.Add(1)
	go func() {
		defer o.archiveWG.Done()
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ArchiveTimeout)
		defer cancel()
		if err := o.archive.Save(saveCtx, record); err != nil {
			o.metrics.SessionEvents.WithLabelValues("archive_failed").Inc()
			logger.Warn().Err(err).Msg("archive transcript failed")
			return
		}
		logger.Debug().Int("turns", len(record.Turns)).Bool("pii_redacted", record.PIIRedacted).Msg("transcript archived")
	}()
}

// abandon marks a session that stopped without end_session. cause is nil
// for an ordinary disconnect.
func (o *Orchestrator) abandon(s *session.Session, logger zerolog.Logger, cause error) {
	if !s.End() {
		return
	}
	o.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	ev := logger.Info()
	if cause != nil && !errors.Is(cause, context.Canceled) {
		ev = logger.Warn().Err(cause)
	}
	ev.Int("turns", s.TurnCount()).Msg("connection closed without end_session")
}

func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) error {
	msgType, _ := protocol.TypeOf(msg)
	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(string(msgType), "delivered")
		return nil
	case <-ctx.Done():
		o.metrics.ObserveOutboundMessage(string(msgType), "canceled")
		return ctx.Err()
	}
}
