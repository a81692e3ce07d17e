package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// VADParams tunes voice-activity filtering applied before decoding.
type VADParams struct {
	Threshold  float64
	MinSpeech  time.Duration
	MinSilence time.Duration
	SpeechPad  time.Duration
}

// DefaultVAD is used on the first recognition pass of every chunk.
var DefaultVAD = VADParams{
	Threshold:  0.3,
	MinSpeech:  100 * time.Millisecond,
	MinSilence: 600 * time.Millisecond,
	SpeechPad:  400 * time.Millisecond,
}

// Options controls a single recognition call. A nil VAD disables filtering.
type Options struct {
	VAD *VADParams
}

// Result is the raw recognizer output. Language may be empty when the
// backend could not tell.
type Result struct {
	Text     string
	Language string
}

// Recognizer turns canonical PCM into text.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error)
}

// Transcript is the normalized outcome of Adapter.Transcribe.
type Transcript struct {
	Text     string
	Language string
	// Retried is set when the filtered pass came back empty and a second,
	// unfiltered pass was made.
	Retried bool
}

// Adapter applies the two-pass policy: filtered first, then at most one
// unfiltered retry when nothing was heard.
type Adapter struct {
	rec      Recognizer
	fallback string
}

func NewAdapter(rec Recognizer, fallbackLanguage string) *Adapter {
	fallbackLanguage = strings.ToLower(strings.TrimSpace(fallbackLanguage))
	if fallbackLanguage == "" {
		fallbackLanguage = "en"
	}
	return &Adapter{rec: rec, fallback: fallbackLanguage}
}

func (a *Adapter) Transcribe(ctx context.Context, pcm []byte) (Transcript, error) {
	vad := DefaultVAD
	res, err := a.rec.Transcribe(ctx, pcm, Options{VAD: &vad})
	if err != nil {
		return Transcript{}, fmt.Errorf("recognize: %w", err)
	}

	out := Transcript{Text: strings.TrimSpace(res.Text)}
	if out.Text == "" {
		out.Retried = true
		res, err = a.rec.Transcribe(ctx, pcm, Options{})
		if err != nil {
			return Transcript{}, fmt.Errorf("recognize without vad: %w", err)
		}
		out.Text = strings.TrimSpace(res.Text)
	}

	out.Language = strings.ToLower(strings.TrimSpace(res.Language))
	if out.Language == "" {
		out.Language = a.fallback
	}
	return out, nil
}

// Config selects and configures a Recognizer backend.
type Config struct {
	Provider     string
	WhisperCLI   string
	WhisperModel string
	WhisperVAD   string
	Threads      int
	BeamSize     int
	RemoteURL    string
	RemoteAPIKey string
	RemoteModel  string
}

// New builds the backend named by cfg.Provider and returns it with its name.
// Auto prefers a usable whisper.cpp install, then a remote endpoint, then mock.
func New(cfg Config) (Recognizer, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "auto":
		if w, err := NewWhisperCLI(cfg.WhisperCLI, cfg.WhisperModel, cfg.WhisperVAD, cfg.Threads, cfg.BeamSize); err == nil {
			return w, "whisper", nil
		}
		if strings.TrimSpace(cfg.RemoteURL) != "" {
			return NewRemote(cfg.RemoteURL, cfg.RemoteAPIKey, cfg.RemoteModel), "remote", nil
		}
		return NewMock(), "mock", nil
	case "whisper":
		w, err := NewWhisperCLI(cfg.WhisperCLI, cfg.WhisperModel, cfg.WhisperVAD, cfg.Threads, cfg.BeamSize)
		if err != nil {
			return nil, "", err
		}
		return w, provider, nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, "", errors.New("STT_REMOTE_URL is required for the remote provider")
		}
		return NewRemote(cfg.RemoteURL, cfg.RemoteAPIKey, cfg.RemoteModel), provider, nil
	case "mock":
		return NewMock(), provider, nil
	default:
		return nil, "", fmt.Errorf("unsupported stt provider %q", cfg.Provider)
	}
}
