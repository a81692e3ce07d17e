package responder

import (
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/livevoice/internal/llm"
	"github.com/ent0n29/livevoice/internal/session"
)

type recordingClient struct {
	req   llm.ChatRequest
	reply string
	err   error
}

func (c *recordingClient) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.req = req
	return c.reply, c.err
}

func TestRespondAddsLanguageHint(t *testing.T) {
	client := &recordingClient{reply: "  Bonjour à vous !\n"}
	a := NewAdapter(client, Config{
		SystemPrompt:  "You are Nova.",
		LanguageHints: map[string]string{"FR": "(The user is speaking French. Respond in French.)\n"},
		Temperature:   0.7,
		MaxTokens:     512,
	})
	history := []session.Message{
		{Role: session.RoleUser, Text: "hi"},
		{Role: session.RoleAssistant, Text: "hello"},
	}

	got, err := a.Respond(context.Background(), "Bonjour", history, "fr")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got != "Bonjour à vous !" {
		t.Fatalf("Respond() = %q, want trimmed reply", got)
	}
	if client.req.Input != "(The user is speaking French. Respond in French.)\nBonjour" {
		t.Fatalf("Input = %q, want hint prefix", client.req.Input)
	}
	if client.req.System != "You are Nova." || client.req.Temperature != 0.7 || client.req.MaxTokens != 512 {
		t.Fatalf("request = %+v, want system prompt and sampling settings", client.req)
	}
	if len(client.req.History) != 2 || client.req.History[1].Role != llm.RoleAssistant || client.req.History[0].Text != "hi" {
		t.Fatalf("History = %+v, want mapped prior turns", client.req.History)
	}
}

func TestRespondWithoutHint(t *testing.T) {
	client := &recordingClient{reply: "Sure."}
	a := NewAdapter(client, Config{LanguageHints: map[string]string{"fr": "x"}})
	if _, err := a.Respond(context.Background(), "Hello", nil, "en"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if client.req.Input != "Hello" || len(client.req.History) != 0 {
		t.Fatalf("request = %+v, want untouched input and empty history", client.req)
	}
}

func TestRespondPropagatesErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	a := NewAdapter(&recordingClient{err: boom}, Config{})
	if _, err := a.Respond(context.Background(), "Hello", nil, "en"); !errors.Is(err, boom) {
		t.Fatalf("Respond() error = %v, want wrapped quota error", err)
	}
}
