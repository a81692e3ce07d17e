package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/audio"
)

// SilenceDuration is the length of the placeholder returned when an engine
// renders nothing.
const SilenceDuration = 300 * time.Millisecond

// Audio is a complete synthesized utterance. Format is declared by the
// engine ("wav", "mp3", "pcm_16000", ...) and is opaque to the transport.
type Audio struct {
	Data     []byte
	Format   string
	Language string
}

// Synthesizer turns reply text into speech. languageHint is the language the
// user spoke in; variants decide whether to honor it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageHint string) (Audio, error)
}

// Voice selects what an engine renders with.
type Voice struct {
	ID       string
	Locale   string
	Language string
}

// Engine renders text with a voice. Implementations that own processes or
// connections release them in Close.
type Engine interface {
	Render(ctx context.Context, text string, v Voice) ([]byte, string, error)
	Close() error
}

type resolver interface {
	resolve(ctx context.Context, languageHint string) (Engine, Voice, error)
	close() error
}

// Options carries the ambient collaborators shared by every variant.
type Options struct {
	Logger zerolog.Logger
	// OnSilence is called whenever the silence placeholder is substituted.
	OnSilence func()
}

// Adapter is the Synthesizer returned by every variant constructor. It owns
// the empty-audio policy: an engine that yields no bytes gets replaced by
// SilenceDuration of canonical silence, never partial audio.
type Adapter struct {
	variant string
	r       resolver
	opts    Options
}

func newAdapter(variant string, r resolver, opts Options) *Adapter {
	return &Adapter{variant: variant, r: r, opts: opts}
}

// Variant names the voice-selection strategy in use.
func (a *Adapter) Variant() string { return a.variant }

func (a *Adapter) Synthesize(ctx context.Context, text, languageHint string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, errors.New("synthesize: empty text")
	}
	engine, voice, err := a.r.resolve(ctx, strings.ToLower(strings.TrimSpace(languageHint)))
	if err != nil {
		return Audio{}, fmt.Errorf("resolve voice: %w", err)
	}
	data, format, err := engine.Render(ctx, text, voice)
	if err != nil {
		return Audio{}, fmt.Errorf("render %s: %w", a.variant, err)
	}
	if len(data) == 0 {
		a.opts.Logger.Warn().
			Str("variant", a.variant).
			Str("voice", voice.ID).
			Str("language", voice.Language).
			Msg("synthesizer returned no audio; substituting silence")
		if a.opts.OnSilence != nil {
			a.opts.OnSilence()
		}
		return Audio{Data: audio.SilenceWAV(SilenceDuration), Format: "wav", Language: voice.Language}, nil
	}
	return Audio{Data: data, Format: normalizeFormat(format), Language: voice.Language}, nil
}

func (a *Adapter) Close() error {
	return a.r.close()
}

// normalizeFormat reduces container formats with encoder details ("mp3_44100_128",
// "wav_24000") to the container name. Raw PCM keeps its rate since it has no header.
func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "wav"
	}
	prefix, _, _ := strings.Cut(format, "_")
	switch prefix {
	case "mp3", "wav", "opus", "ogg", "flac":
		return prefix
	default:
		return format
	}
}

// fixedLanguage always speaks with one configured voice, whatever language
// the user spoke in.
type fixedLanguage struct {
	engine Engine
	voice  Voice
}

// NewFixedLanguage returns a Synthesizer that ignores the language hint.
func NewFixedLanguage(engine Engine, voice Voice, opts Options) *Adapter {
	return newAdapter("fixed", &fixedLanguage{engine: engine, voice: voice}, opts)
}

func (f *fixedLanguage) resolve(context.Context, string) (Engine, Voice, error) {
	return f.engine, f.voice, nil
}

func (f *fixedLanguage) close() error { return f.engine.Close() }

// externalNeural forwards the hint to a multilingual engine that accepts a
// language code alongside a fixed voice.
type externalNeural struct {
	engine   Engine
	voiceID  string
	fallback string
}

// NewExternalNeural returns a Synthesizer for a hosted multilingual voice.
func NewExternalNeural(engine Engine, voiceID, defaultLanguage string, opts Options) *Adapter {
	return newAdapter("neural", &externalNeural{engine: engine, voiceID: voiceID, fallback: defaultLanguage}, opts)
}

func (n *externalNeural) resolve(_ context.Context, hint string) (Engine, Voice, error) {
	lang := hint
	if lang == "" {
		lang = n.fallback
	}
	return n.engine, Voice{ID: n.voiceID, Language: lang}, nil
}

func (n *externalNeural) close() error { return n.engine.Close() }
