package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/config"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/recognition"
	"github.com/ent0n29/livevoice/internal/synthesis"
)

// voiceSetup holds the speech backends chosen at startup.
type voiceSetup struct {
	recognizer     *recognition.Adapter
	recognizerName string
	synthesizer    *synthesis.Adapter
	synthesisName  string
	cleanup        func() error
}

func resolveVoice(ctx context.Context, cfg config.Config, agent config.AgentFile, metrics *observability.Metrics, logger zerolog.Logger) (voiceSetup, error) {
	rec, recName, err := recognition.New(recognition.Config{
		Provider:     cfg.STTProvider,
		WhisperCLI:   cfg.WhisperCLI,
		WhisperModel: cfg.WhisperModelPath,
		WhisperVAD:   cfg.WhisperVADModelPath,
		Threads:      cfg.WhisperThreads,
		BeamSize:     cfg.WhisperBeamSize,
		RemoteURL:    cfg.STTRemoteURL,
		RemoteAPIKey: cfg.STTRemoteAPIKey,
		RemoteModel:  cfg.STTRemoteModel,
	})
	if err != nil {
		return voiceSetup{}, fmt.Errorf("speech recognizer init failed: %w", err)
	}

	voices := make(map[string]synthesis.Voice, len(agent.Voices))
	for lang, v := range agent.Voices {
		lang = strings.ToLower(strings.TrimSpace(lang))
		voices[lang] = synthesis.Voice{ID: v.Voice, Locale: v.Locale, Language: lang}
	}

	synth, synthName, err := synthesis.New(ctx, synthesis.Config{
		Variant:         cfg.TTSVariant,
		Engine:          cfg.TTSEngine,
		FixedLanguage:   cfg.TTSFixedLanguage,
		FixedVoice:      cfg.TTSFixedVoice,
		DefaultLanguage: cfg.TTSDefaultLang,
		Voices:          voices,
		Kokoro: synthesis.KokoroConfig{
			Python:        cfg.KokoroPython,
			Script:        cfg.KokoroWorkerScript,
			Speed:         cfg.KokoroSpeed,
			WarmupTimeout: 2 * time.Minute,
		},
		ElevenLabs: synthesis.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			ModelID:      cfg.ElevenLabsModelID,
			OutputFormat: cfg.ElevenLabsOutputFormat,
		},
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
	}, synthesis.Options{
		Logger: logger.With().Str("component", "synthesis").Logger(),
		OnSilence: func() {
			metrics.ObserveIndicator("silence_fallback")
		},
	})
	if err != nil {
		return voiceSetup{}, fmt.Errorf("speech synthesizer init failed: %w", err)
	}

	logger.Info().
		Str("recognizer", recName).
		Str("synthesizer", synthName).
		Str("fallback_language", cfg.STTFallbackLanguage).
		Msg("voice backends ready")

	return voiceSetup{
		recognizer:     recognition.NewAdapter(rec, cfg.STTFallbackLanguage),
		recognizerName: recName,
		synthesizer:    synth,
		synthesisName:  synthName,
		cleanup:        synth.Close,
	}, nil
}
