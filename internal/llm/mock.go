package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no model is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	input := strings.TrimSpace(req.Input)
	if input == "" {
		return "I am listening.", nil
	}
	// The analyzer asks for JSON; answer in kind so the dev loop exercises parsing.
	if strings.Contains(req.System, `"overall"`) {
		return fmt.Sprintf(`{"summary": "A conversation of %d lines.", "sentiment": {"overall": "neutral", "score": 0.5, "details": "Mock analysis."}}`,
			strings.Count(input, "\n")+1), nil
	}
	return fmt.Sprintf("I heard you: %s", input), nil
}
