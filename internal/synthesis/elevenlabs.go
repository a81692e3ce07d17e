package synthesis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/livevoice/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
}

// ElevenLabsEngine renders each utterance over its own stream-input
// websocket and returns the concatenated audio once the service marks it final.
type ElevenLabsEngine struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabsEngine {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Stability <= 0 || cfg.Stability > 1 {
		cfg.Stability = 0.42
	}
	if cfg.Similarity <= 0 || cfg.Similarity > 1 {
		cfg.Similarity = 0.85
	}
	return &ElevenLabsEngine{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type elevenFrame struct {
	Audio       string `json:"audio"`
	IsFinal     bool   `json:"isFinal"`
	Error       string `json:"error"`
	MessageType string `json:"message_type"`
}

func (e *ElevenLabsEngine) Render(ctx context.Context, text string, v Voice) ([]byte, string, error) {
	if strings.TrimSpace(v.ID) == "" {
		return nil, "", errors.New("voice_id is required")
	}
	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(v.ID) + "/stream-input")
	if err != nil {
		return nil, "", err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", e.cfg.OutputFormat)
	if lang := strings.TrimSpace(v.Language); lang != "" {
		q.Set("language_code", lang)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)
	conn, res, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if res != nil && res.StatusCode >= 400 {
			return nil, "", reliability.HTTPError("elevenlabs", res.StatusCode, []byte(err.Error()))
		}
		return nil, "", fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller goes away.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	frames := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        e.cfg.Stability,
				"similarity_boost": e.cfg.Similarity,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return nil, "", fmt.Errorf("write tts frame: %w", err)
		}
	}

	var out []byte
	for {
		var frame elevenFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return out, e.cfg.OutputFormat, nil
			}
			return nil, "", fmt.Errorf("read tts frame: %w", err)
		}
		if frame.Error != "" {
			return nil, "", reliability.RealtimeError("elevenlabs", frame.MessageType, frame.Error)
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, "", fmt.Errorf("decode audio chunk: %w", err)
			}
			out = append(out, chunk...)
		}
		if frame.IsFinal {
			return out, e.cfg.OutputFormat, nil
		}
	}
}

func (e *ElevenLabsEngine) Close() error { return nil }
