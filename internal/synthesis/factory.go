package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Config selects the variant and engine once at startup.
type Config struct {
	Variant         string
	Engine          string
	FixedLanguage   string
	FixedVoice      string
	DefaultLanguage string
	// Voices maps language codes to kokoro voices and locales.
	Voices     map[string]Voice
	Kokoro     KokoroConfig
	ElevenLabs ElevenLabsConfig
	// ElevenLabsVoiceID is the hosted voice used by the fixed and neural variants.
	ElevenLabsVoiceID string
}

// New builds the configured Synthesizer. The returned description names the
// variant and engine, e.g. "fixed/kokoro".
func New(ctx context.Context, cfg Config, opts Options) (*Adapter, string, error) {
	variant := strings.ToLower(strings.TrimSpace(cfg.Variant))
	engine, err := pickEngine(cfg, variant)
	if err != nil {
		return nil, "", err
	}
	desc := variant + "/" + engine

	switch variant {
	case "fixed":
		lang := strings.ToLower(strings.TrimSpace(cfg.FixedLanguage))
		v := Voice{ID: cfg.FixedVoice, Locale: cfg.Voices[lang].Locale, Language: lang}
		if engine == "elevenlabs" {
			v.ID = cfg.ElevenLabsVoiceID
		}
		e, err := buildEngine(ctx, cfg, engine, v)
		if err != nil {
			return nil, "", err
		}
		return NewFixedLanguage(e, v, opts), desc, nil
	case "mapped":
		factory := func(ctx context.Context, v Voice) (Engine, error) {
			return buildEngine(ctx, cfg, engine, v)
		}
		a, err := NewMappedVoice(cfg.Voices, cfg.DefaultLanguage, factory, opts)
		if err != nil {
			return nil, "", err
		}
		// Warm the default locale so the first reply does not pay for model load.
		if _, _, err := a.r.resolve(ctx, strings.ToLower(cfg.DefaultLanguage)); err != nil {
			_ = a.Close()
			return nil, "", err
		}
		return a, desc, nil
	case "neural":
		e := NewElevenLabs(cfg.ElevenLabs)
		return NewExternalNeural(e, cfg.ElevenLabsVoiceID, cfg.DefaultLanguage, opts), desc, nil
	case "mock":
		return NewFixedLanguage(NewMockEngine(), Voice{ID: "mock", Language: cfg.DefaultLanguage}, opts), desc, nil
	default:
		return nil, "", fmt.Errorf("unsupported tts variant %q", cfg.Variant)
	}
}

func pickEngine(cfg Config, variant string) (string, error) {
	engine := strings.ToLower(strings.TrimSpace(cfg.Engine))
	hasEleven := strings.TrimSpace(cfg.ElevenLabs.APIKey) != ""
	switch variant {
	case "neural":
		if !hasEleven {
			return "", errors.New("ELEVENLABS_API_KEY is required for the neural tts variant")
		}
		return "elevenlabs", nil
	case "mock":
		return "mock", nil
	case "mapped":
		// Per-locale pipelines only make sense for a local engine.
		if engine == "elevenlabs" {
			return "", errors.New("the mapped tts variant requires a local engine (kokoro or mock)")
		}
	}
	switch engine {
	case "", "auto":
		if variant == "fixed" && hasEleven {
			return "elevenlabs", nil
		}
		if cfg.Kokoro.Available() == nil {
			return "kokoro", nil
		}
		return "mock", nil
	case "elevenlabs":
		if !hasEleven {
			return "", errors.New("ELEVENLABS_API_KEY is required for the elevenlabs engine")
		}
		return engine, nil
	case "kokoro":
		if err := cfg.Kokoro.Available(); err != nil {
			return "", err
		}
		return engine, nil
	case "mock":
		return engine, nil
	default:
		return "", fmt.Errorf("unsupported tts engine %q", cfg.Engine)
	}
}

func buildEngine(ctx context.Context, cfg Config, engine string, v Voice) (Engine, error) {
	switch engine {
	case "kokoro":
		return StartKokoro(ctx, cfg.Kokoro, v)
	case "elevenlabs":
		return NewElevenLabs(cfg.ElevenLabs), nil
	default:
		return NewMockEngine(), nil
	}
}
