package policy

import "regexp"

type piiRule struct {
	pattern *regexp.Regexp
	mask    string
}

// Card numbers are masked before phone numbers so long digit runs are not
// reported as phones.
var piiRules = []piiRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks email addresses, card numbers and phone numbers in
// transcript text before it is logged or archived.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range piiRules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		if next != out {
			changed = true
		}
		out = next
	}
	return out, changed
}
