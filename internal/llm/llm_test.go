package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ent0n29/livevoice/internal/reliability"
)

func TestHTTPClientPlainJSON(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Bonjour !"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	reply, err := c.Chat(context.Background(), ChatRequest{
		System:      "be nice",
		History:     []Message{{Role: RoleUser, Text: "hi"}, {Role: RoleAssistant, Text: "hello"}},
		Input:       "Bonjour",
		Temperature: 0.7,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "Bonjour !" {
		t.Fatalf("reply = %q, want %q", reply, "Bonjour !")
	}
	if got.Input != "Bonjour" || len(got.History) != 2 || got.History[1].Role != "assistant" {
		t.Fatalf("request = %+v, want input and two history entries", got)
	}
	if got.MaxTokens != 512 || got.System != "be nice" {
		t.Fatalf("request = %+v, want max_tokens 512 and system prompt", got)
	}
}

func TestConsumeStreamSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		`data: {"delta":"Hel"}`,
		"",
		`data: {"delta":"lo"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n"))
	got, err := consumeStream(stream)
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if got != "Hello" {
		t.Fatalf("consumeStream() = %q, want %q", got, "Hello")
	}
}

func TestConsumeStreamNDJSON(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		`{"delta":"Hi"}`,
		" there",
		"[DONE]",
	}, "\n"))
	got, err := consumeStream(stream)
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if got != "Hi there" {
		t.Fatalf("consumeStream() = %q, want %q", got, "Hi there")
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Chat(context.Background(), ChatRequest{Input: "x"})
	var pe *reliability.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Chat() error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusServiceUnavailable || !pe.Retryable {
		t.Fatalf("ProviderError = %+v, want retryable 503", pe)
	}
}

type fakeChatModel struct {
	got  []*schema.Message
	opts *model.Options
	err  error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.got = input
	f.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage("ciao", nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoClientMapsRolesAndOptions(t *testing.T) {
	fake := &fakeChatModel{}
	c := NewEinoClient(fake)
	reply, err := c.Chat(context.Background(), ChatRequest{
		System:      "sys",
		History:     []Message{{Role: RoleUser, Text: "a"}, {Role: RoleAssistant, Text: "b"}},
		Input:       "c",
		Temperature: 0.3,
		MaxTokens:   64,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "ciao" {
		t.Fatalf("reply = %q, want %q", reply, "ciao")
	}
	wantRoles := []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User}
	if len(fake.got) != len(wantRoles) {
		t.Fatalf("len(messages) = %d, want %d", len(fake.got), len(wantRoles))
	}
	for i, role := range wantRoles {
		if fake.got[i].Role != role {
			t.Fatalf("messages[%d].Role = %q, want %q", i, fake.got[i].Role, role)
		}
	}
	if fake.opts.Temperature == nil || *fake.opts.Temperature != 0.3 {
		t.Fatalf("temperature option = %v, want 0.3", fake.opts.Temperature)
	}
	if fake.opts.MaxTokens == nil || *fake.opts.MaxTokens != 64 {
		t.Fatalf("max tokens option = %v, want 64", fake.opts.MaxTokens)
	}
}

func TestEinoClientWrapsProviderError(t *testing.T) {
	c := NewEinoClient(&fakeChatModel{err: errors.New("quota")})
	_, err := c.Chat(context.Background(), ChatRequest{Input: "x"})
	if reliability.Code(err) != "provider_error" {
		t.Fatalf("Code(err) = %q, want provider_error", reliability.Code(err))
	}
}

func TestGeminiContentsMapRoles(t *testing.T) {
	contents := geminiContents(ChatRequest{
		History: []Message{{Role: RoleUser, Text: "a"}, {Role: RoleAssistant, Text: "b"}},
		Input:   "c",
	})
	want := []string{"user", "model", "user"}
	if len(contents) != len(want) {
		t.Fatalf("len(contents) = %d, want %d", len(contents), len(want))
	}
	for i, role := range want {
		if string(contents[i].Role) != role {
			t.Fatalf("contents[%d].Role = %q, want %q", i, contents[i].Role, role)
		}
	}
	cfg := geminiConfig(ChatRequest{System: "sys", Temperature: 0.7, MaxTokens: 512})
	if cfg.MaxOutputTokens != 512 || cfg.SystemInstruction == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("config = %+v, want system instruction, 0.7, 512", cfg)
	}
}

func TestNewAutoSelectsBackend(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{}, "mock"},
		{Config{HTTPURL: "http://127.0.0.1:1/chat"}, "http"},
		{Config{ArkAPIKey: "k", HTTPURL: "http://x"}, "http"},
	}
	for _, tc := range cases {
		_, name, err := New(context.Background(), tc.cfg)
		if err != nil {
			t.Fatalf("New(%+v) error = %v", tc.cfg, err)
		}
		if name != tc.want {
			t.Fatalf("New(%+v) backend = %q, want %q", tc.cfg, name, tc.want)
		}
	}
	if _, _, err := New(context.Background(), Config{Provider: "gemini"}); err == nil {
		t.Fatalf("New(gemini without key) error = nil, want error")
	}
}

func TestMockClientEchoes(t *testing.T) {
	reply, err := NewMockClient().Chat(context.Background(), ChatRequest{Input: " Bonjour "})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "I heard you: Bonjour" {
		t.Fatalf("reply = %q", reply)
	}
}
