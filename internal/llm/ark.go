package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ent0n29/livevoice/internal/reliability"
)

// ArkClient runs requests through an eino chat model backed by Volcengine Ark.
type ArkClient struct {
	model model.BaseChatModel
}

func NewArkClient(ctx context.Context, baseURL, apiKey, modelName string) (*ArkClient, error) {
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: strings.TrimSpace(baseURL),
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(modelName),
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return NewEinoClient(cm), nil
}

// NewEinoClient wraps any eino chat model.
func NewEinoClient(cm model.BaseChatModel) *ArkClient {
	return &ArkClient{model: cm}
}

func (c *ArkClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	msg, err := c.model.Generate(ctx, einoMessages(req), opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &reliability.ProviderError{Provider: "ark", Retryable: true, Detail: err.Error()}
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

func einoMessages(req ChatRequest) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.History)+2)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, schema.SystemMessage(s))
	}
	for _, m := range req.History {
		if m.Role == RoleAssistant {
			msgs = append(msgs, schema.AssistantMessage(m.Text, nil))
			continue
		}
		msgs = append(msgs, schema.UserMessage(m.Text))
	}
	return append(msgs, schema.UserMessage(req.Input))
}
