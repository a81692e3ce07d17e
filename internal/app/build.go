package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/analysis"
	"github.com/ent0n29/livevoice/internal/archive"
	"github.com/ent0n29/livevoice/internal/audio"
	"github.com/ent0n29/livevoice/internal/config"
	"github.com/ent0n29/livevoice/internal/httpapi"
	"github.com/ent0n29/livevoice/internal/llm"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/responder"
	"github.com/ent0n29/livevoice/internal/session"
	"github.com/ent0n29/livevoice/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *session.Registry
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Backends     httpapi.Backends

	// Cleanup should be called on shutdown to release external resources (DB, local workers, etc).
	Cleanup func() error
}

// Build wires every component from cfg. Backend variants are chosen once
// here and never change for the life of the process.
func Build(ctx context.Context, cfg config.Config, agent config.AgentFile, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transcoder := audio.NewTranscoder(audio.TranscoderConfig{
		FFmpegPath:    cfg.FFmpegPath,
		Timeout:       cfg.TranscodeTimeout,
		MaxInputBytes: cfg.MaxAudioChunkBytes,
	})
	if err := transcoder.Available(); err != nil {
		// Chunks will fail with a conversion error until ffmpeg is installed.
		logger.Warn().Err(err).Msg("transcoder unavailable")
	}

	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}
	archiveName := "none"
	if store != nil {
		archiveName = "postgres"
	}
	closeStore := func() error {
		if store == nil {
			return nil
		}
		return store.Close()
	}

	client, llmName, err := llm.New(ctx, llm.Config{
		Provider:     cfg.LLMProvider,
		Model:        cfg.LLMModel,
		GeminiAPIKey: cfg.GeminiAPIKey,
		ArkAPIKey:    cfg.ArkAPIKey,
		ArkModel:     cfg.ArkModel,
		ArkBaseURL:   cfg.ArkBaseURL,
		HTTPURL:      cfg.LLMHTTPURL,
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}

	speech, err := resolveVoice(ctx, cfg, agent, metrics, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	resp := responder.NewAdapter(client, responder.Config{
		SystemPrompt:  agent.Agent.SystemPrompt(),
		LanguageHints: agent.LanguageHints,
		Temperature:   cfg.LLMTemperature,
		MaxTokens:     cfg.LLMMaxOutputTokens,
	})
	analyzer := analysis.NewAnalyzer(client, analysis.Config{
		Temperature: cfg.SummaryTemperature,
		MaxTokens:   cfg.SummaryMaxOutputTokens,
		Timeout:     cfg.SummaryTimeout,
	}, logger.With().Str("component", "analysis").Logger())

	registry := session.NewRegistry()
	registry.SetEndedRetention(cfg.SessionRetention)
	registry.SetReapHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("reaped").Inc()
	})

	orchestrator := voice.NewOrchestrator(voice.Dependencies{
		Transcoder:  transcoder,
		Recognizer:  speech.recognizer,
		Responder:   resp,
		Synthesizer: speech.synthesizer,
		Analyzer:    analyzer,
		Archive:     store,
		Metrics:     metrics,
		Logger:      logger,
	}, voice.Config{
		MinChunkBytes:  cfg.MinAudioChunkBytes,
		ArchiveTimeout: cfg.ArchiveTimeout,
	})

	backends := httpapi.Backends{
		Transcoder:  "ffmpeg",
		Recognizer:  speech.recognizerName,
		LLM:         llmName,
		Synthesizer: speech.synthesisName,
		Archive:     archiveName,
	}
	api := httpapi.New(cfg, registry, orchestrator, metrics, logger, backends,
		httpapi.ReadinessCheck{Name: "ffmpeg", Check: func(context.Context) error {
			return transcoder.Available()
		}},
	)

	logger.Info().
		Str("llm", llmName).
		Str("archive", archiveName).
		Str("agent", agent.Agent.Name).
		Msg("components built")

	cleanup := func() error {
		orchestrator.Wait()
		var errs []error
		if speech.cleanup != nil {
			if err := speech.cleanup(); err != nil {
				errs = append(errs, fmt.Errorf("close synthesizer: %w", err))
			}
		}
		if err := closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Backends:     backends,
		Cleanup:      cleanup,
	}, nil
}
