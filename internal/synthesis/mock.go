package synthesis

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/livevoice/internal/audio"
)

// MockEngine renders a silent WAV whose length tracks the word count.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (m *MockEngine) Render(ctx context.Context, text string, _ Voice) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	words := len(strings.Fields(text))
	return audio.SilenceWAV(time.Duration(words) * 250 * time.Millisecond), "wav", nil
}

func (m *MockEngine) Close() error { return nil }
