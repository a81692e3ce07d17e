package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/analysis"
	"github.com/ent0n29/livevoice/internal/archive"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/protocol"
	"github.com/ent0n29/livevoice/internal/recognition"
	"github.com/ent0n29/livevoice/internal/session"
	"github.com/ent0n29/livevoice/internal/synthesis"
)

type fakeTranscoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTranscoder) ToPCM(_ context.Context, chunk []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return bytes.Repeat([]byte{0}, 3200), nil
}

func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecognizer struct {
	mu      sync.Mutex
	results []recognition.Transcript
	calls   int
}

func (f *fakeRecognizer) Transcribe(context.Context, []byte) (recognition.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return recognition.Transcript{}, nil
	}
	out := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return out, nil
}

func (f *fakeRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResponder struct {
	mu        sync.Mutex
	reply     string
	err       error
	histories [][]session.Message
	languages []string
}

func (f *fakeResponder) Respond(_ context.Context, userText string, history []session.Message, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, history)
	f.languages = append(f.languages, language)
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "You said " + userText, nil
}

type recordingSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSynth) Synthesize(_ context.Context, text, languageHint string) (synthesis.Audio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	if r.err != nil {
		return synthesis.Audio{}, r.err
	}
	return synthesis.Audio{Data: []byte("RIFF-audio"), Format: "wav", Language: languageHint}, nil
}

type countingAnalyzer struct{}

func (countingAnalyzer) Analyze(_ context.Context, turns []session.Turn) analysis.Result {
	return analysis.Result{
		Summary:       fmt.Sprintf("%d turns", len(turns)),
		Sentiment:     session.Sentiment{Overall: "positive", Score: 0.8, Details: "friendly"},
		TurnCount:     len(turns),
		LanguagesUsed: []string{"en"},
	}
}

type connHarness struct {
	orch   *Orchestrator
	sess   *session.Session
	in     chan any
	out    chan any
	done   chan error
	cancel context.CancelFunc
}

func testDeps() Dependencies {
	return Dependencies{
		Transcoder:  &fakeTranscoder{},
		Recognizer:  &fakeRecognizer{results: []recognition.Transcript{{Text: "hello", Language: "en"}}},
		Responder:   &fakeResponder{},
		Synthesizer: &recordingSynth{},
		Analyzer:    countingAnalyzer{},
		Metrics:     observability.NewMetrics(fmt.Sprintf("voice_test_%d", time.Now().UnixNano())),
		Logger:      zerolog.Nop(),
	}
}

func startConnection(t *testing.T, deps Dependencies, sess *session.Session) *connHarness {
	t.Helper()
	if sess == nil {
		sess = session.NewRegistry().Create()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &connHarness{
		orch:   NewOrchestrator(deps, Config{}),
		sess:   sess,
		in:     make(chan any, 8),
		out:    make(chan any, 16),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	t.Cleanup(cancel)
	go func() {
		h.done <- h.orch.RunConnection(ctx, h.sess, h.in, h.out)
	}()

	start, ok := h.next(t).(protocol.SessionStart)
	if !ok || start.SessionID != sess.ID() {
		t.Fatalf("first event = %+v, want session_start for %s", start, sess.ID())
	}
	return h
}

func (h *connHarness) next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-h.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound event")
		return nil
	}
}

func (h *connHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return")
		return nil
	}
}

func chunk(n int) protocol.AudioChunk {
	return protocol.AudioChunk{Data: bytes.Repeat([]byte{0x1a}, n)}
}

func TestRunConnectionFrenchTurnWithFixedVoice(t *testing.T) {
	deps := testDeps()
	deps.Recognizer = &fakeRecognizer{results: []recognition.Transcript{{Text: "Bonjour", Language: "fr"}}}
	deps.Responder = &fakeResponder{reply: "Bonjour ! Comment allez-vous ?"}
	deps.Synthesizer = synthesis.NewFixedLanguage(
		synthesis.NewMockEngine(),
		synthesis.Voice{ID: "ff_siwis", Locale: "fr-FR", Language: "fr"},
		synthesis.Options{Logger: zerolog.Nop()},
	)
	h := startConnection(t, deps, nil)

	h.in <- chunk(4096)

	tr, ok := h.next(t).(protocol.Transcription)
	if !ok || tr.Text != "Bonjour" || tr.Language != "fr" {
		t.Fatalf("transcription = %+v, want Bonjour/fr", tr)
	}
	resp, ok := h.next(t).(protocol.Response)
	if !ok || resp.Text != "Bonjour ! Comment allez-vous ?" {
		t.Fatalf("response = %+v", resp)
	}
	frame, ok := h.next(t).(protocol.AudioFrame)
	if !ok || len(frame.Data) <= 44 || frame.Format != "wav" {
		t.Fatalf("audio frame = %d bytes %q, want non-empty wav", len(frame.Data), frame.Format)
	}

	turns := h.sess.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[0].Text != "Bonjour" || turns[0].Language != "fr" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Role != session.RoleAssistant || turns[1].Text != resp.Text {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestRunConnectionSmallChunkSkipsPipeline(t *testing.T) {
	deps := testDeps()
	tc := deps.Transcoder.(*fakeTranscoder)
	rec := deps.Recognizer.(*fakeRecognizer)
	h := startConnection(t, deps, nil)

	h.in <- chunk(999)
	tr, ok := h.next(t).(protocol.Transcription)
	if !ok || tr.Text != "" || tr.Language != "" {
		t.Fatalf("event = %+v, want empty transcription", tr)
	}
	h.in <- protocol.ClientControl{Type: protocol.TypePing}
	if _, ok := h.next(t).(protocol.Pong); !ok {
		t.Fatalf("want pong right after the empty transcription")
	}
	if tc.Calls() != 0 || rec.Calls() != 0 {
		t.Fatalf("transcoder/recognizer calls = %d/%d, want 0/0", tc.Calls(), rec.Calls())
	}
	if h.sess.TurnCount() != 0 {
		t.Fatalf("TurnCount() = %d, want 0", h.sess.TurnCount())
	}
}

func TestRunConnectionEmptyRecognitionRecordsNothing(t *testing.T) {
	deps := testDeps()
	deps.Recognizer = &fakeRecognizer{results: []recognition.Transcript{{Text: "   ", Language: "en", Retried: true}}}
	synth := deps.Synthesizer.(*recordingSynth)
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	tr, ok := h.next(t).(protocol.Transcription)
	if !ok || tr.Text != "" || tr.Language != "" {
		t.Fatalf("event = %+v, want transcription with empty text and language", tr)
	}
	h.in <- protocol.ClientControl{Type: protocol.TypePing}
	if msg := h.next(t); msg != protocol.NewPong() {
		t.Fatalf("event = %+v, want pong (no response or audio)", msg)
	}
	if h.sess.TurnCount() != 0 || len(synth.texts) != 0 {
		t.Fatalf("turns=%d synth calls=%d, want 0/0", h.sess.TurnCount(), len(synth.texts))
	}
}

func TestRunConnectionResponderSeesPriorHistoryOnly(t *testing.T) {
	deps := testDeps()
	deps.Recognizer = &fakeRecognizer{results: []recognition.Transcript{
		{Text: "first", Language: "en"},
		{Text: "second", Language: "en"},
	}}
	resp := deps.Responder.(*fakeResponder)
	h := startConnection(t, deps, nil)

	for i := 0; i < 2; i++ {
		h.in <- chunk(2048)
		for j := 0; j < 3; j++ {
			h.next(t)
		}
	}

	resp.mu.Lock()
	defer resp.mu.Unlock()
	if len(resp.histories) != 2 {
		t.Fatalf("responder calls = %d, want 2", len(resp.histories))
	}
	if len(resp.histories[0]) != 0 {
		t.Fatalf("first history = %+v, want empty", resp.histories[0])
	}
	want := []session.Message{
		{Role: session.RoleUser, Text: "first"},
		{Role: session.RoleAssistant, Text: "You said first"},
	}
	got := resp.histories[1]
	if len(got) != len(want) {
		t.Fatalf("second history = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRunConnectionSpeaksSanitizedReply(t *testing.T) {
	deps := testDeps()
	deps.Responder = &fakeResponder{reply: "**Sure**, see [the docs](https://example.com) 😊"}
	synth := deps.Synthesizer.(*recordingSynth)
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	h.next(t)
	resp := h.next(t).(protocol.Response)
	h.next(t)

	if resp.Text != "**Sure**, see [the docs](https://example.com) 😊" {
		t.Fatalf("response text = %q, want raw reply", resp.Text)
	}
	if len(synth.texts) != 1 || synth.texts[0] != "Sure, see the docs" {
		t.Fatalf("synthesized = %q, want %q", synth.texts, "Sure, see the docs")
	}
}

func TestRunConnectionTranscodeFailure(t *testing.T) {
	deps := testDeps()
	deps.Transcoder = &fakeTranscoder{err: errors.New("ffmpeg exited 1")}
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "Audio format conversion failed." {
		t.Fatalf("event = %+v, want conversion error", ev)
	}
	h.in <- protocol.ClientControl{Type: protocol.TypePing}
	if _, ok := h.next(t).(protocol.Pong); !ok {
		t.Fatalf("connection should stay open after a conversion error")
	}
}

func TestRunConnectionResponderFailureKeepsUserTurn(t *testing.T) {
	deps := testDeps()
	deps.Responder = &fakeResponder{err: errors.New("model unavailable")}
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "Processing error. Please try again." {
		t.Fatalf("event = %+v, want processing error", ev)
	}
	turns := h.sess.Turns()
	if len(turns) != 1 || turns[0].Role != session.RoleUser {
		t.Fatalf("turns = %+v, want only the user turn", turns)
	}
}

func TestRunConnectionSynthesisFailureDropsAssistantTurn(t *testing.T) {
	deps := testDeps()
	deps.Synthesizer = &recordingSynth{err: errors.New("tts down")}
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "Processing error. Please try again." {
		t.Fatalf("event = %+v, want processing error", ev)
	}
	if h.sess.TurnCount() != 1 {
		t.Fatalf("TurnCount() = %d, want 1", h.sess.TurnCount())
	}
}

func TestRunConnectionEmptyReplyIsProcessingError(t *testing.T) {
	deps := testDeps()
	deps.Responder = &fakeResponder{reply: "   "}
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "Processing error. Please try again." {
		t.Fatalf("event = %+v, want processing error", ev)
	}
}

func TestRunConnectionUnsupportedTypeContinues(t *testing.T) {
	h := startConnection(t, testDeps(), nil)

	h.in <- fmt.Errorf("%w: %q", protocol.ErrUnsupportedType, "dance")
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "unsupported message type" {
		t.Fatalf("event = %+v, want unsupported message type", ev)
	}
	h.in <- protocol.ClientControl{Type: protocol.TypePing}
	if _, ok := h.next(t).(protocol.Pong); !ok {
		t.Fatalf("want pong after unsupported type")
	}
}

func TestRunConnectionMalformedFrameTerminates(t *testing.T) {
	h := startConnection(t, testDeps(), nil)

	h.in <- fmt.Errorf("%w: unexpected end of JSON input", protocol.ErrMalformed)
	if err := h.wait(t); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("RunConnection() error = %v, want ErrMalformed", err)
	}
	if !h.sess.Ended() {
		t.Fatalf("session should be ended after a protocol violation")
	}
	if _, ok := h.sess.Summary(); ok {
		t.Fatalf("session should not be analyzed after a protocol violation")
	}
}

func TestRunConnectionDisconnectEndsWithoutAnalysis(t *testing.T) {
	h := startConnection(t, testDeps(), nil)

	close(h.in)
	if err := h.wait(t); err != nil {
		t.Fatalf("RunConnection() error = %v, want nil", err)
	}
	if !h.sess.Ended() {
		t.Fatalf("session should be ended after disconnect")
	}
	if _, ok := h.sess.Summary(); ok {
		t.Fatalf("disconnect should not produce a summary")
	}
	select {
	case msg := <-h.out:
		t.Fatalf("unexpected event after disconnect: %+v", msg)
	default:
	}
}

func TestRunConnectionCancelStopsLoop(t *testing.T) {
	h := startConnection(t, testDeps(), nil)

	h.cancel()
	if err := h.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunConnection() error = %v, want context.Canceled", err)
	}
	if !h.sess.Ended() {
		t.Fatalf("session should be ended after cancellation")
	}
}

func TestRunConnectionEndSessionSummarizes(t *testing.T) {
	sess := session.NewRegistry().Create()
	for _, turn := range []struct {
		role session.Role
		text string
	}{
		{session.RoleUser, "hi"},
		{session.RoleAssistant, "hello"},
		{session.RoleUser, "bye"},
	} {
		if err := sess.AddTurn(turn.role, turn.text, "en"); err != nil {
			t.Fatalf("AddTurn() error = %v", err)
		}
	}
	h := startConnection(t, testDeps(), sess)

	h.in <- protocol.ClientControl{Type: protocol.TypeEndSession}
	h.in <- chunk(2048)

	sum, ok := h.next(t).(protocol.Summary)
	if !ok || sum.TurnCount != 3 || sum.Sentiment.Overall != "positive" {
		t.Fatalf("summary = %+v, want 3 positive turns", sum)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("RunConnection() error = %v", err)
	}
	select {
	case msg := <-h.out:
		t.Fatalf("unexpected event after summary: %+v", msg)
	default:
	}
	if !sess.Ended() || sess.TurnCount() != 3 {
		t.Fatalf("session ended=%v turns=%d, want ended with 3 turns", sess.Ended(), sess.TurnCount())
	}
	summary, ok := sess.Summary()
	if !ok || summary != "3 turns" {
		t.Fatalf("Summary() = %q, %v, want recorded summary", summary, ok)
	}
	if err := sess.AddTurn(session.RoleUser, "late", "en"); !errors.Is(err, session.ErrEnded) {
		t.Fatalf("AddTurn() after end error = %v, want ErrEnded", err)
	}
}

func TestRunConnectionRejectsAudioOnEndedSession(t *testing.T) {
	sess := session.NewRegistry().Create()
	sess.End()
	deps := testDeps()
	tc := deps.Transcoder.(*fakeTranscoder)
	h := startConnection(t, deps, sess)

	h.in <- chunk(2048)
	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok || ev.Message != "session has ended" {
		t.Fatalf("event = %+v, want session has ended", ev)
	}
	if tc.Calls() != 0 || sess.TurnCount() != 0 {
		t.Fatalf("ended session was processed: transcodes=%d turns=%d", tc.Calls(), sess.TurnCount())
	}
}

func TestRunConnectionArchivesRedactedTranscript(t *testing.T) {
	deps := testDeps()
	deps.Recognizer = &fakeRecognizer{results: []recognition.Transcript{{Text: "mail me at ada@example.com", Language: "en"}}}
	deps.Responder = &fakeResponder{reply: "Will do."}
	store := archive.NewInMemoryStore(0)
	deps.Archive = store
	h := startConnection(t, deps, nil)

	h.in <- chunk(2048)
	for i := 0; i < 3; i++ {
		h.next(t)
	}
	h.in <- protocol.ClientControl{Type: protocol.TypeEndSession}
	if _, ok := h.next(t).(protocol.Summary); !ok {
		t.Fatalf("want summary")
	}
	h.wait(t)
	h.orch.Wait()

	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.SessionID != h.sess.ID() || len(rec.Turns) != 2 || !rec.PIIRedacted {
		t.Fatalf("record = %+v", rec)
	}
	if strings.Contains(rec.Turns[0].Text, "ada@example.com") {
		t.Fatalf("archived turn not redacted: %q", rec.Turns[0].Text)
	}
}
