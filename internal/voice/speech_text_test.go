package voice

import "testing"

func TestSpeakable(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "no space before closing punctuation",
			in:   "**Bonjour** , ça va ?",
			want: "Bonjour, ça va?",
		},
		{
			name: "keeps spanish inverted marks",
			in:   "¿Qué tal? ¡Muy bien!",
			want: "¿Qué tal? ¡Muy bien!",
		},
		{
			name: "falls back to raw reply when nothing is speakable",
			in:   " 👍 ",
			want: "👍",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := speakable(tc.in); got != tc.want {
				t.Fatalf("speakable(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
