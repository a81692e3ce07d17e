package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)

	markupReplacer = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	)
)

// speakable strips markdown, links and emoji from a model reply so the
// synthesizer only reads prose. The reply shown to the client is untouched.
// If nothing speakable survives, the trimmed reply is returned as is.
func speakable(reply string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ""
	}

	text := fencedCodePattern.ReplaceAllString(reply, " ")
	text = inlineCodePattern.ReplaceAllString(text, " ")
	text = markdownLinkPattern.ReplaceAllString(text, "$1")
	text = urlPattern.ReplaceAllString(text, " ")
	text = markupReplacer.Replace(text)

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r):
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case unicode.IsPunct(r) && !keepsPunctuation(r):
			pendingSpace = b.Len() > 0
		default:
			if pendingSpace && !strings.ContainsRune(".,!?:;)", r) {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.TrimFunc(out, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) == "" {
		return reply
	}
	return out
}

func keepsPunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '¿', '¡', '«', '»', '。', '、', '？', '！':
		return true
	default:
		return false
	}
}
