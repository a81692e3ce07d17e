package recognition

import (
	"context"

	"github.com/ent0n29/livevoice/internal/audio"
)

// Mock reports a fixed phrase for any audio that survives filtering.
type Mock struct {
	Text     string
	Language string
}

func NewMock() *Mock {
	return &Mock{Text: "Hello there.", Language: "en"}
}

func (m *Mock) Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if opts.VAD != nil {
		voiced, err := ApplyVAD(pcm, *opts.VAD)
		if err != nil {
			return Result{}, err
		}
		pcm = voiced
	}
	if audio.Duration(pcm) == 0 {
		return Result{}, nil
	}
	return Result{Text: m.Text, Language: m.Language}, nil
}
