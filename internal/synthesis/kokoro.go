package synthesis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// KokoroConfig locates the python worker that hosts the kokoro model.
type KokoroConfig struct {
	Python string
	Script string
	Speed  float64
	// WarmupTimeout bounds the first request, which loads the model.
	WarmupTimeout time.Duration
}

// Available reports whether the python interpreter and worker script exist.
func (c KokoroConfig) Available() error {
	if strings.TrimSpace(c.Python) == "" {
		return errors.New("KOKORO_PYTHON is not set")
	}
	if _, err := exec.LookPath(c.Python); err != nil {
		return fmt.Errorf("kokoro python not found (%s): %w", c.Python, err)
	}
	if _, err := os.Stat(c.Script); err != nil {
		return fmt.Errorf("kokoro worker script not found: %s", c.Script)
	}
	return nil
}

// KokoroEngine is a long-lived kokoro worker process speaking JSON lines over
// stdin/stdout. Requests are serialized; one engine serves one locale.
type KokoroEngine struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	dec      *json.Decoder
	stderr   *bytes.Buffer
	langCode string
	speed    float64
	closed   bool
	seq      uint64
}

type kokoroRequest struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	LangCode string  `json:"lang_code"`
	Speed    float64 `json:"speed"`
}

type kokoroResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

const kokoroDrainTimeout = 30 * time.Second

type kokoroResult struct {
	resp kokoroResponse
	err  error
}

// StartKokoro launches a worker for v.Locale and renders a short warmup
// phrase so missing dependencies surface at startup.
func StartKokoro(ctx context.Context, cfg KokoroConfig, v Voice) (*KokoroEngine, error) {
	cmd := exec.Command(cfg.Python, "-u", cfg.Script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start kokoro worker: %w", err)
	}

	speed := cfg.Speed
	if speed <= 0 {
		speed = 1.0
	}
	e := &KokoroEngine{
		cmd:      cmd,
		stdin:    stdin,
		dec:      json.NewDecoder(stdout),
		stderr:   stderr,
		langCode: kokoroLangCode(v.Locale),
		speed:    speed,
	}

	timeout := cfg.WarmupTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	warmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, _, err := e.render(warmCtx, "warmup", v, true); err != nil {
		_ = e.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("kokoro worker warmup timed out after %s: %w", timeout, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("kokoro worker failed to start: %s", msg)
	}
	return e, nil
}

func (e *KokoroEngine) Render(ctx context.Context, text string, v Voice) ([]byte, string, error) {
	return e.render(ctx, text, v, false)
}

// render sends one request. When ctx ends first the caller returns at once;
// with killOnCancel the worker is killed, otherwise a drain keeps the engine
// locked until the abandoned answer arrives so the stream stays aligned.
func (e *KokoroEngine) render(ctx context.Context, text string, v Voice, killOnCancel bool) ([]byte, string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, "", errors.New("kokoro worker closed")
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return nil, "", err
	}

	e.seq++
	req := kokoroRequest{
		ID:       fmt.Sprintf("req-%d", e.seq),
		Text:     text,
		Voice:    v.ID,
		LangCode: e.langCode,
		Speed:    e.speed,
	}
	b, _ := json.Marshal(req)
	if _, err := e.stdin.Write(append(b, '\n')); err != nil {
		e.mu.Unlock()
		return nil, "", fmt.Errorf("write kokoro request: %w", err)
	}

	result := make(chan kokoroResult, 1)
	go func() {
		var d kokoroResult
		d.err = e.dec.Decode(&d.resp)
		result <- d
	}()

	var resp kokoroResponse
	select {
	case d := <-result:
		e.mu.Unlock()
		if d.err != nil {
			return nil, "", fmt.Errorf("read kokoro response: %w", d.err)
		}
		resp = d.resp
	case <-ctx.Done():
		if killOnCancel {
			e.killLocked(result)
			e.mu.Unlock()
		} else {
			go e.drainAndUnlock(result)
		}
		return nil, "", fmt.Errorf("kokoro worker did not answer: %w", ctx.Err())
	}

	if resp.ID != req.ID {
		return nil, "", fmt.Errorf("kokoro worker out-of-sync (got %q, expected %q)", resp.ID, req.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown kokoro error"
		}
		return nil, "", errors.New(msg)
	}
	if strings.TrimSpace(resp.AudioBase64) == "" {
		return nil, resp.Format, nil
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode audio_base64: %w", err)
	}
	return data, resp.Format, nil
}

// drainAndUnlock discards the answer to an abandoned request. A worker that
// stays silent past kokoroDrainTimeout is killed.
func (e *KokoroEngine) drainAndUnlock(pending <-chan kokoroResult) {
	defer e.mu.Unlock()
	timer := time.NewTimer(kokoroDrainTimeout)
	defer timer.Stop()
	select {
	case d := <-pending:
		if d.err != nil {
			e.killLocked(nil)
		}
	case <-timer.C:
		e.killLocked(pending)
	}
}

// killLocked stops the worker and marks the engine closed. pending, when
// set, is the reader still blocked on stdout; it is reaped before Wait.
func (e *KokoroEngine) killLocked(pending <-chan kokoroResult) {
	e.closed = true
	_ = e.stdin.Close()
	cmd := e.cmd
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	go func() {
		if pending != nil {
			<-pending
		}
		_ = cmd.Wait()
	}()
}

func (e *KokoroEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stdin, cmd := e.stdin, e.cmd
	e.mu.Unlock()

	_ = stdin.Close()
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

// kokoroLangCode maps a BCP 47 locale to kokoro's single-letter pipeline code.
func kokoroLangCode(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	switch {
	case locale == "en-gb":
		return "b"
	case strings.HasPrefix(locale, "en"):
		return "a"
	case strings.HasPrefix(locale, "es"):
		return "e"
	case strings.HasPrefix(locale, "fr"):
		return "f"
	case strings.HasPrefix(locale, "hi"):
		return "h"
	case strings.HasPrefix(locale, "it"):
		return "i"
	case strings.HasPrefix(locale, "ja"):
		return "j"
	case strings.HasPrefix(locale, "pt"):
		return "p"
	case strings.HasPrefix(locale, "zh"):
		return "z"
	default:
		return "a"
	}
}
