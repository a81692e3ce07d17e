package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/llm"
	"github.com/ent0n29/livevoice/internal/session"
)

const instructions = `Analyze the conversation transcript you are given and return a JSON object with:
1. "summary": A concise 2-3 sentence summary of what was discussed.
2. "sentiment": An object with:
   - "overall": one of "positive", "negative", "neutral", "mixed"
   - "score": a float from 0.0 (very negative) to 1.0 (very positive)
   - "details": a brief explanation of the sentiment

Return ONLY valid JSON, no markdown formatting.`

// Result is the end-of-session verdict. TurnCount always reflects the turns
// that were analyzed, whether or not the model call succeeded.
type Result struct {
	Summary       string
	Sentiment     session.Sentiment
	TurnCount     int
	LanguagesUsed []string
}

type Config struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Analyzer summarizes a finished conversation. It never fails: any error is
// folded into a degraded Result.
type Analyzer struct {
	client llm.Client
	cfg    Config
	logger zerolog.Logger
}

func NewAnalyzer(client llm.Client, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Analyzer{client: client, cfg: cfg, logger: logger}
}

func (a *Analyzer) Analyze(ctx context.Context, turns []session.Turn) Result {
	if len(turns) == 0 {
		return Result{
			Summary:       "No conversation took place.",
			Sentiment:     session.Sentiment{Overall: "neutral", Score: 0.5, Details: "Empty conversation."},
			LanguagesUsed: []string{},
		}
	}

	res, err := a.analyze(ctx, turns)
	if err != nil {
		a.logger.Error().Err(err).Int("turns", len(turns)).Msg("conversation analysis failed")
		return Result{
			Summary:       "Analysis could not be completed.",
			Sentiment:     session.Sentiment{Overall: "unknown", Score: 0.5, Details: err.Error()},
			TurnCount:     len(turns),
			LanguagesUsed: []string{},
		}
	}
	a.logger.Info().Str("overall", res.Sentiment.Overall).Int("turns", res.TurnCount).Msg("conversation analysis complete")
	return res
}

func (a *Analyzer) analyze(ctx context.Context, turns []session.Turn) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	raw, err := a.client.Chat(ctx, llm.ChatRequest{
		System:      instructions,
		Input:       transcript(turns),
		Temperature: float32(a.cfg.Temperature),
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Summary   string `json:"summary"`
		Sentiment struct {
			Overall string   `json:"overall"`
			Score   *float64 `json:"score"`
			Details string   `json:"details"`
		} `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return Result{}, fmt.Errorf("parse analysis: %w", err)
	}
	summary := strings.TrimSpace(parsed.Summary)
	overall := strings.ToLower(strings.TrimSpace(parsed.Sentiment.Overall))
	if summary == "" || overall == "" {
		return Result{}, errors.New("analysis is missing summary or sentiment")
	}

	score := 0.5
	if parsed.Sentiment.Score != nil {
		score = min(max(*parsed.Sentiment.Score, 0), 1)
	}
	return Result{
		Summary:       summary,
		Sentiment:     session.Sentiment{Overall: overall, Score: score, Details: strings.TrimSpace(parsed.Sentiment.Details)},
		TurnCount:     len(turns),
		LanguagesUsed: languages(turns),
	}, nil
}

func transcript(turns []session.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "Assistant"
		if t.Role == session.RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

// stripFences removes a surrounding markdown code fence and a leading "json" tag.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if _, rest, ok := strings.Cut(raw, "\n"); ok {
			raw = rest
		} else {
			raw = raw[3:]
		}
	}
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "```"))
	if strings.HasPrefix(raw, "json") {
		raw = strings.TrimSpace(raw[4:])
	}
	return raw
}

func languages(turns []session.Turn) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, t := range turns {
		lang := strings.ToLower(strings.TrimSpace(t.Language))
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}
