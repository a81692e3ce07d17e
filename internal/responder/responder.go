package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/livevoice/internal/llm"
	"github.com/ent0n29/livevoice/internal/session"
)

type Config struct {
	SystemPrompt string
	// LanguageHints maps a recognized language code to a directive that is
	// prepended to the user's text.
	LanguageHints map[string]string
	Temperature   float64
	MaxTokens     int
}

// Adapter shapes a conversational turn into a text model request.
type Adapter struct {
	client llm.Client
	cfg    Config
}

func NewAdapter(client llm.Client, cfg Config) *Adapter {
	hints := make(map[string]string, len(cfg.LanguageHints))
	for lang, hint := range cfg.LanguageHints {
		hints[strings.ToLower(strings.TrimSpace(lang))] = hint
	}
	cfg.LanguageHints = hints
	return &Adapter{client: client, cfg: cfg}
}

// Respond returns the trimmed reply to userText. history must not include
// the turn being answered.
func (a *Adapter) Respond(ctx context.Context, userText string, history []session.Message, language string) (string, error) {
	input := userText
	if hint, ok := a.cfg.LanguageHints[strings.ToLower(strings.TrimSpace(language))]; ok {
		input = hint + userText
	}

	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Text: m.Text})
	}

	reply, err := a.client.Chat(ctx, llm.ChatRequest{
		System:      a.cfg.SystemPrompt,
		History:     msgs,
		Input:       input,
		Temperature: float32(a.cfg.Temperature),
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
