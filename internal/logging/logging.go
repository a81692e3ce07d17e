package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/policy"
)

type Options struct {
	Level  string
	Format string // console | json
	Out    io.Writer
}

// New builds the process logger. Components derive children with
// logger.With().Str("component", ...).
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", s, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    out != os.Stderr && out != os.Stdout,
		}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (expected console|json)", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Transcript prepares user or model text for a log line: PII is masked and
// the result is capped at 120 runes.
func Transcript(text string) string {
	const maxRunes = 120
	redacted, _ := policy.RedactPII(strings.TrimSpace(text))
	if utf8.RuneCountInString(redacted) <= maxRunes {
		return redacted
	}
	runes := []rune(redacted)
	return string(runes[:maxRunes]) + "..."
}
