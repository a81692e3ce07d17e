package recognition

import (
	"context"
	"errors"
	"testing"
)

type scriptedRecognizer struct {
	results []Result
	calls   []Options
	err     error
}

func (s *scriptedRecognizer) Transcribe(_ context.Context, _ []byte, opts Options) (Result, error) {
	s.calls = append(s.calls, opts)
	if s.err != nil {
		return Result{}, s.err
	}
	if len(s.calls) > len(s.results) {
		return Result{}, nil
	}
	return s.results[len(s.calls)-1], nil
}

func TestAdapterRetriesOnceWithoutVAD(t *testing.T) {
	rec := &scriptedRecognizer{results: []Result{
		{Text: "   ", Language: "en"},
		{Text: " hola ", Language: "es"},
	}}
	got, err := NewAdapter(rec, "en").Transcribe(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("recognizer calls = %d, want 2", len(rec.calls))
	}
	if rec.calls[0].VAD == nil || *rec.calls[0].VAD != DefaultVAD {
		t.Fatalf("first call VAD = %+v, want DefaultVAD", rec.calls[0].VAD)
	}
	if rec.calls[1].VAD != nil {
		t.Fatalf("second call VAD = %+v, want nil", rec.calls[1].VAD)
	}
	if got.Text != "hola" || got.Language != "es" || !got.Retried {
		t.Fatalf("Transcribe() = %+v, want retried hola/es", got)
	}
}

func TestAdapterAcceptsEmptyRetry(t *testing.T) {
	rec := &scriptedRecognizer{}
	got, err := NewAdapter(rec, "en").Transcribe(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("recognizer calls = %d, want exactly 2", len(rec.calls))
	}
	if got.Text != "" || got.Language != "en" {
		t.Fatalf("Transcribe() = %+v, want empty text with fallback language", got)
	}
}

func TestAdapterNoRetryWhenFirstPassHears(t *testing.T) {
	rec := &scriptedRecognizer{results: []Result{{Text: "Bonjour", Language: "FR"}}}
	got, err := NewAdapter(rec, "en").Transcribe(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(rec.calls) != 1 || got.Retried {
		t.Fatalf("calls = %d retried = %v, want a single pass", len(rec.calls), got.Retried)
	}
	if got.Language != "fr" {
		t.Fatalf("Language = %q, want fr", got.Language)
	}
}

func TestAdapterLanguageFallback(t *testing.T) {
	rec := &scriptedRecognizer{results: []Result{{Text: "ok"}}}
	got, err := NewAdapter(rec, "de").Transcribe(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Language != "de" {
		t.Fatalf("Language = %q, want fallback de", got.Language)
	}
}

func TestAdapterPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := &scriptedRecognizer{err: boom}
	if _, err := NewAdapter(rec, "en").Transcribe(context.Background(), []byte{1}); !errors.Is(err, boom) {
		t.Fatalf("Transcribe() error = %v, want boom", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %d, want no retry after an error", len(rec.calls))
	}
}

func TestNewProviders(t *testing.T) {
	if _, name, err := New(Config{Provider: "mock"}); err != nil || name != "mock" {
		t.Fatalf("New(mock) = %q, %v", name, err)
	}
	if _, _, err := New(Config{Provider: "remote"}); err == nil {
		t.Fatalf("New(remote without url) error = nil, want error")
	}
	if _, _, err := New(Config{Provider: "whisper", WhisperCLI: "/nonexistent/whisper-cli"}); err == nil {
		t.Fatalf("New(whisper without cli) error = nil, want error")
	}
	_, name, err := New(Config{WhisperCLI: "/nonexistent/whisper-cli", RemoteURL: "http://stt.local/v1/audio/transcriptions"})
	if err != nil || name != "remote" {
		t.Fatalf("New(auto) = %q, %v, want remote", name, err)
	}
}
