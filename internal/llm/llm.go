package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior exchange in the conversation handed to the model.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is the normalized request sent to a text model.
type ChatRequest struct {
	System      string
	History     []Message
	Input       string
	Temperature float32
	MaxTokens   int
}

// Client generates a single reply for a request. Implementations must honor
// ctx cancellation.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Config controls client construction.
type Config struct {
	Provider     string
	Model        string
	GeminiAPIKey string
	ArkAPIKey    string
	ArkModel     string
	ArkBaseURL   string
	HTTPURL      string
}

// New returns the client for cfg.Provider along with the backend name that
// was selected. In auto mode the first configured backend wins and mock is
// the last resort.
func New(ctx context.Context, cfg Config) (Client, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == "auto" {
		provider = autoProvider(cfg)
	}

	switch provider {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, "", errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.Model)
		return c, provider, err
	case "ark":
		if strings.TrimSpace(cfg.ArkAPIKey) == "" || strings.TrimSpace(cfg.ArkModel) == "" {
			return nil, "", errors.New("ARK_API_KEY and ARK_MODEL are required for the ark provider")
		}
		c, err := NewArkClient(ctx, cfg.ArkBaseURL, cfg.ArkAPIKey, cfg.ArkModel)
		return c, provider, err
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", errors.New("LLM_HTTP_URL is required for the http provider")
		}
		return NewHTTPClient(cfg.HTTPURL), provider, nil
	case "mock":
		return NewMockClient(), provider, nil
	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func autoProvider(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return "gemini"
	case strings.TrimSpace(cfg.ArkAPIKey) != "" && strings.TrimSpace(cfg.ArkModel) != "":
		return "ark"
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return "http"
	default:
		return "mock"
	}
}
