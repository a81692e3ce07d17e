package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ent0n29/livevoice/internal/audio"
)

// WhisperCLI runs one whisper.cpp process per call with language detection
// and JSON output.
type WhisperCLI struct {
	cliPath   string
	modelPath string
	// vadModel enables whisper.cpp's native VAD; without it ApplyVAD pre-filters.
	vadModel string
	threads  int
	beamSize int
}

func NewWhisperCLI(cli, modelPath, vadModel string, threads, beamSize int) (*WhisperCLI, error) {
	cli = strings.TrimSpace(cli)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}
	modelPath, err = resolveModel(modelPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(vadModel) != "" {
		if vadModel, err = resolveModel(vadModel); err != nil {
			return nil, err
		}
	}
	if threads < 0 {
		return nil, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	if threads == 0 {
		threads = min(max(runtime.NumCPU(), 2), 8)
	}
	if beamSize <= 0 {
		beamSize = 5
	}
	return &WhisperCLI{
		cliPath:   cliPath,
		modelPath: modelPath,
		vadModel:  vadModel,
		threads:   threads,
		beamSize:  beamSize,
	}, nil
}

func resolveModel(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("whisper.cpp model path is required")
	}
	if !filepath.IsAbs(path) {
		if wd, err := os.Getwd(); err == nil {
			path = filepath.Join(wd, path)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("whisper.cpp model not found: %s", path)
	}
	return path, nil
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *WhisperCLI) Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error) {
	args := []string{
		"-m", w.modelPath,
		"-l", "auto",
		"-oj",
		"-nt",
		"-t", strconv.Itoa(w.threads),
		"-bs", strconv.Itoa(w.beamSize),
	}
	if opts.VAD != nil {
		if w.vadModel != "" {
			args = append(args,
				"--vad",
				"--vad-model", w.vadModel,
				"--vad-threshold", strconv.FormatFloat(opts.VAD.Threshold, 'f', 2, 64),
				"--vad-min-speech-duration-ms", strconv.FormatInt(opts.VAD.MinSpeech.Milliseconds(), 10),
				"--vad-min-silence-duration-ms", strconv.FormatInt(opts.VAD.MinSilence.Milliseconds(), 10),
				"--vad-speech-pad-ms", strconv.FormatInt(opts.VAD.SpeechPad.Milliseconds(), 10),
			)
		} else {
			voiced, err := ApplyVAD(pcm, *opts.VAD)
			if err != nil {
				return Result{}, err
			}
			pcm = voiced
		}
	}
	if len(pcm) == 0 {
		return Result{}, nil
	}

	tmpDir, err := os.MkdirTemp("", "livevoice-whisper-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := audio.WriteWAVFile(wavPath, pcm, audio.SampleRate); err != nil {
		return Result{}, err
	}
	outPrefix := filepath.Join(tmpDir, "out")
	args = append(args, "-f", wavPath, "-of", outPrefix)

	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	injectWhisperLibraryEnv(cmd, w.cliPath)
	cmd.Stdout = io.Discard
	stderr := newTailBuffer(8 << 10)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return Result{}, fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	raw, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return Result{}, fmt.Errorf("read whisper.cpp output: %w", err)
	}
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper.cpp output: %w", err)
	}
	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
	}
	return Result{
		Text:     strings.TrimSpace(text.String()),
		Language: strings.TrimSpace(out.Result.Language),
	}, nil
}

// tailBuffer keeps the last max bytes written; whisper.cpp logs verbosely to stderr.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

// injectWhisperLibraryEnv points the dynamic loader at a lib directory next
// to the CLI, which is where source builds of whisper.cpp place libwhisper.
func injectWhisperLibraryEnv(cmd *exec.Cmd, toolPath string) {
	toolDir := filepath.Dir(strings.TrimSpace(toolPath))
	var libDir string
	for _, candidate := range []string{
		filepath.Join(toolDir, "..", "lib"),
		filepath.Join(toolDir, "lib"),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			libDir = filepath.Clean(candidate)
			break
		}
	}
	if libDir == "" {
		return
	}
	env := cmd.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	for _, key := range []string{"LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH", "DYLD_FALLBACK_LIBRARY_PATH"} {
		env = prependPathEnv(env, key, libDir)
	}
	cmd.Env = env
}

func prependPathEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		current := strings.TrimPrefix(kv, prefix)
		for _, item := range filepath.SplitList(current) {
			if filepath.Clean(item) == value {
				return env
			}
		}
		if strings.TrimSpace(current) == "" {
			env[i] = prefix + value
		} else {
			env[i] = prefix + value + string(os.PathListSeparator) + current
		}
		return env
	}
	return append(env, prefix+value)
}
