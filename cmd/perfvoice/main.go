package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/livevoice/internal/audio"
	"github.com/ent0n29/livevoice/internal/observability"
)

type options struct {
	baseURL        string
	turns          int
	files          []string
	toneMS         int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	endSession     bool
	verbose        bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`
	Message   string `json:"message,omitempty"`
	Summary   string `json:"summary,omitempty"`
	TurnCount int    `json:"turn_count,omitempty"`
}

// turnTiming is measured from the moment the chunk was written.
type turnTiming struct {
	Transcription time.Duration
	Response      time.Duration
	Audio         time.Duration
	Text          string
	Language      string
	Spoke         bool
	Err           string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var filesRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "livevoice base URL")
	flag.IntVar(&cfg.turns, "turns", 5, "number of chunks to send")
	flag.StringVar(&filesRaw, "audio", "", "audio files to replay, separated by ',' (cycled across turns)")
	flag.IntVar(&cfg.toneMS, "tone-ms", 1200, "length of the synthetic tone used when no audio file is given")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 250, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for a turn to finish in milliseconds")
	flag.BoolVar(&cfg.endSession, "end-session", true, "send end_session after the last turn and print the summary")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.toneMS < 100 || cfg.toneMS > 30000 {
		return options{}, fmt.Errorf("tone-ms must be in [100,30000]")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	for _, f := range strings.Split(filesRaw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			cfg.files = append(cfg.files, f)
		}
	}
	return cfg, nil
}

func run(cfg options, out io.Writer) error {
	clips, err := loadClips(cfg)
	if err != nil {
		return err
	}

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	frames := make(chan frame, 16)
	go readLoop(conn, frames)

	start, err := awaitType(frames, "session_start", cfg.turnTimeout)
	if err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Fprintf(out, "session %s\n", start.SessionID)
	}

	timings := make([]turnTiming, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		clip := clips[i%len(clips)]
		tt, err := replayTurn(conn, frames, clip, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		timings = append(timings, tt)
		if cfg.verbose {
			printTurn(out, i+1, tt)
		}
		if i+1 < cfg.turns && cfg.interTurnDelay > 0 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printReport(out, timings)

	if cfg.endSession {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end_session"}`)); err != nil {
			return fmt.Errorf("send end_session: %w", err)
		}
		sum, err := awaitType(frames, "summary", cfg.turnTimeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "summary (%d turns): %s\n", sum.TurnCount, sum.Summary)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := fetchServerLatency(ctx, http.DefaultClient, cfg.baseURL)
	if err != nil {
		fmt.Fprintf(out, "server latency unavailable: %v\n", err)
		return nil
	}
	printServerLatency(out, snap)
	return nil
}

func loadClips(cfg options) ([][]byte, error) {
	if len(cfg.files) == 0 {
		wav, err := toneWAV(time.Duration(cfg.toneMS)*time.Millisecond, 220)
		if err != nil {
			return nil, err
		}
		return [][]byte{wav}, nil
	}
	clips := make([][]byte, 0, len(cfg.files))
	for _, f := range cfg.files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read audio file: %w", err)
		}
		clips = append(clips, data)
	}
	return clips, nil
}

// toneWAV renders a sine tone in the gateway's canonical PCM format.
func toneWAV(d time.Duration, hz float64) ([]byte, error) {
	n := int(d.Seconds() * audio.SampleRate)
	pcm := make([]byte, n*audio.BytesPerSample)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/audio.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.EncodeWAV(pcm, audio.SampleRate)
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/audio"
	return u.String(), nil
}

type frame struct {
	at     time.Time
	binary bool
	env    wsEnvelope
	err    error
}

func readLoop(conn *websocket.Conn, frames chan<- frame) {
	defer close(frames)
	for {
		msgType, data, err := conn.ReadMessage()
		at := time.Now()
		if err != nil {
			frames <- frame{at: at, err: err}
			return
		}
		if msgType == websocket.BinaryMessage {
			frames <- frame{at: at, binary: true}
			continue
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			frames <- frame{at: at, err: fmt.Errorf("decode event: %w", err)}
			return
		}
		frames <- frame{at: at, env: env}
	}
}

// replayTurn sends one chunk and waits until the turn is complete: audio
// after a response, an empty transcription, or an error event.
func replayTurn(conn *websocket.Conn, frames <-chan frame, clip []byte, timeout time.Duration) (turnTiming, error) {
	var tt turnTiming
	sent := time.Now()
	if err := conn.WriteMessage(websocket.BinaryMessage, clip); err != nil {
		return tt, fmt.Errorf("send audio: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return tt, errors.New("connection closed")
			}
			if f.err != nil {
				return tt, f.err
			}
			if f.binary {
				tt.Audio = f.at.Sub(sent)
				tt.Spoke = true
				return tt, nil
			}
			switch f.env.Type {
			case "transcription":
				tt.Transcription = f.at.Sub(sent)
				tt.Text = f.env.Text
				tt.Language = f.env.Language
				if f.env.Text == "" {
					return tt, nil
				}
			case "response":
				tt.Response = f.at.Sub(sent)
			case "error":
				tt.Err = f.env.Message
				return tt, nil
			}
		case <-deadline.C:
			return tt, fmt.Errorf("timed out after %s", timeout)
		}
	}
}

func awaitType(frames <-chan frame, want string, timeout time.Duration) (wsEnvelope, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return wsEnvelope{}, fmt.Errorf("connection closed waiting for %s", want)
			}
			if f.err != nil {
				return wsEnvelope{}, f.err
			}
			if !f.binary && f.env.Type == want {
				return f.env, nil
			}
		case <-deadline.C:
			return wsEnvelope{}, fmt.Errorf("timed out waiting for %s", want)
		}
	}
}

func fetchServerLatency(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return observability.StageSnapshot{}, fmt.Errorf("status %d", res.StatusCode)
	}
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, fmt.Errorf("decode latency snapshot: %w", err)
	}
	return snap, nil
}

func printTurn(out io.Writer, n int, tt turnTiming) {
	switch {
	case tt.Err != "":
		fmt.Fprintf(out, "turn %d: error %q\n", n, tt.Err)
	case !tt.Spoke:
		fmt.Fprintf(out, "turn %d: no speech (%s)\n", n, ms(tt.Transcription))
	default:
		fmt.Fprintf(out, "turn %d: [%s] %q transcription=%s response=%s audio=%s\n",
			n, tt.Language, tt.Text, ms(tt.Transcription), ms(tt.Response), ms(tt.Audio))
	}
}

func printReport(out io.Writer, timings []turnTiming) {
	var trans, resp, aud []float64
	errs := 0
	for _, tt := range timings {
		if tt.Err != "" {
			errs++
			continue
		}
		trans = append(trans, float64(tt.Transcription.Milliseconds()))
		if tt.Spoke {
			resp = append(resp, float64(tt.Response.Milliseconds()))
			aud = append(aud, float64(tt.Audio.Milliseconds()))
		}
	}
	fmt.Fprintf(out, "turns=%d spoken=%d errors=%d\n", len(timings), len(aud), errs)
	for _, row := range []struct {
		name    string
		samples []float64
	}{
		{"transcription", trans},
		{"response", resp},
		{"audio", aud},
	} {
		if len(row.samples) == 0 {
			continue
		}
		fmt.Fprintf(out, "  %-13s p50=%6.0fms p95=%6.0fms max=%6.0fms\n",
			row.name, percentile(row.samples, 0.50), percentile(row.samples, 0.95), percentile(row.samples, 1))
	}
}

func printServerLatency(out io.Writer, snap observability.StageSnapshot) {
	fmt.Fprintf(out, "server stages (window %d):\n", snap.WindowSize)
	for _, s := range snap.Stages {
		fmt.Fprintf(out, "  %-11s n=%-4d p50=%7.1fms p95=%7.1fms target=%6.0fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.TargetP95MS)
	}
	for _, ind := range snap.Indicators {
		fmt.Fprintf(out, "  %s=%d\n", ind.Name, ind.Count)
	}
}

// percentile uses nearest-rank on a sorted copy.
func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	rank = min(max(rank, 0), len(sorted)-1)
	return sorted[rank]
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
