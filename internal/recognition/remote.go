package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/livevoice/internal/audio"
	"github.com/ent0n29/livevoice/internal/reliability"
)

// Remote calls an OpenAI-compatible /v1/audio/transcriptions endpoint with
// FLAC-encoded audio. The endpoint has no VAD knob, so filtering runs locally.
type Remote struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewRemote(url, apiKey, model string) *Remote {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "whisper-1"
	}
	return &Remote{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Remote) Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error) {
	if opts.VAD != nil {
		voiced, err := ApplyVAD(pcm, *opts.VAD)
		if err != nil {
			return Result{}, err
		}
		pcm = voiced
	}
	if len(pcm) == 0 {
		return Result{}, nil
	}
	flac, err := audio.EncodeFLAC(pcm)
	if err != nil {
		return Result{}, fmt.Errorf("encode flac: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(flac); err != nil {
		return Result{}, err
	}
	_ = writer.WriteField("model", r.model)
	_ = writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Result{}, reliability.HTTPError("stt_remote", res.StatusCode, raw)
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse transcription response: %w", err)
	}
	return Result{Text: out.Text, Language: normalizeLanguage(out.Language)}, nil
}

var languageNames = map[string]string{
	"english":    "en",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"german":     "de",
	"japanese":   "ja",
	"chinese":    "zh",
	"hindi":      "hi",
	"indonesian": "id",
	"dutch":      "nl",
	"russian":    "ru",
	"korean":     "ko",
	"arabic":     "ar",
}

// normalizeLanguage maps verbose_json language names ("french") to ISO codes.
func normalizeLanguage(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageNames[name]; ok {
		return code
	}
	if len(name) == 2 {
		return name
	}
	return ""
}
