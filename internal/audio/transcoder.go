package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrTranscode is wrapped by every conversion failure so callers can map it
// to a single client-facing error.
var ErrTranscode = errors.New("audio format conversion failed")

const (
	DefaultTranscodeTimeout = 15 * time.Second
	stderrTailBytes         = 4 << 10
)

// Transcoder turns browser-recorded audio chunks into canonical PCM by
// running an external ffmpeg process.
type Transcoder struct {
	ffmpegPath string
	timeout    time.Duration
	maxInput   int
	tempRoot   string
}

type TranscoderConfig struct {
	FFmpegPath string
	Timeout    time.Duration
	// MaxInputBytes rejects oversized chunks before anything touches disk. Zero disables the check.
	MaxInputBytes int
	// TempDir is the parent of the per-call scratch directory. Empty uses os.TempDir.
	TempDir string
}

func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	path := strings.TrimSpace(cfg.FFmpegPath)
	if path == "" {
		path = "ffmpeg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTranscodeTimeout
	}
	return &Transcoder{
		ffmpegPath: path,
		timeout:    timeout,
		maxInput:   cfg.MaxInputBytes,
		tempRoot:   cfg.TempDir,
	}
}

// Available reports whether the configured ffmpeg binary can be resolved.
func (t *Transcoder) Available() error {
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", t.ffmpegPath, err)
	}
	return nil
}

// ToPCM converts one compressed chunk to mono 16 kHz s16le PCM. The scratch
// directory is removed on every return path.
func (t *Transcoder) ToPCM(ctx context.Context, chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrTranscode)
	}
	if t.maxInput > 0 && len(chunk) > t.maxInput {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds limit of %d", ErrTranscode, len(chunk), t.maxInput)
	}

	tmpDir, err := os.MkdirTemp(t.tempRoot, "livevoice-transcode-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "input.webm")
	outPath := filepath.Join(tmpDir, "output.pcm")
	if err := os.WriteFile(inPath, chunk, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", inPath,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		outPath,
	)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: ffmpeg timed out after %s: %w", ErrTranscode, t.timeout, context.DeadlineExceeded)
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > stderrTailBytes {
			detail = strings.TrimSpace(detail[len(detail)-stderrTailBytes:])
		}
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: ffmpeg failed: %s", ErrTranscode, detail)
	}

	pcm, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no audio", ErrTranscode)
	}
	return pcm, nil
}
