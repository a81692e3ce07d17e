package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentFile is the persona document loaded from APP_AGENT_CONFIG.
type AgentFile struct {
	Agent Agent `yaml:"agent"`
	// LanguageHints maps a detected language code to a directive prefixed to the user text.
	LanguageHints map[string]string `yaml:"language_hints"`
	// Voices maps a language code to the voice used by the mapped synthesis variant.
	Voices map[string]VoiceEntry `yaml:"voices"`
}

type Agent struct {
	Name           string      `yaml:"name"`
	Personality    Personality `yaml:"personality"`
	Knowledge      Knowledge   `yaml:"knowledge"`
	Boundaries     Boundaries  `yaml:"boundaries"`
	PromptTemplate string      `yaml:"system_prompt"`
}

type Knowledge struct {
	Base string `yaml:"base"`
}

type Personality struct {
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits"`
	Tone        string   `yaml:"tone"`
}

type Boundaries struct {
	AllowedTopics    []string `yaml:"allowed_topics"`
	ForbiddenTopics  []string `yaml:"forbidden_topics"`
	RedirectMessage  string   `yaml:"redirect_message"`
	MaxResponseWords int      `yaml:"max_response_words"`
}

type VoiceEntry struct {
	Voice  string `yaml:"voice"`
	Locale string `yaml:"locale"`
}

const defaultSystemPrompt = `You are {name}, {description}
Your personality traits: {traits}. Your tone is {tone}.

Knowledge: {knowledge}

You may discuss: {allowed_topics}.
Never discuss: {forbidden_topics}. If asked, reply: "{redirect_message}"

You are speaking out loud, so answer in plain conversational sentences without
markdown, lists or emojis. Keep every answer under {max_words} words.`

// DefaultAgent is used when no persona file is present.
func DefaultAgent() AgentFile {
	return AgentFile{
		Agent: Agent{
			Name: "Nova",
			Personality: Personality{
				Description: "a friendly multilingual voice assistant.",
				Traits:      []string{"warm", "curious", "concise"},
				Tone:        "relaxed and encouraging",
			},
			Knowledge: Knowledge{Base: "General knowledge; no access to private or real-time data."},
			Boundaries: Boundaries{
				AllowedTopics:    []string{"everyday questions", "language practice", "small talk"},
				ForbiddenTopics:  []string{"medical diagnosis", "legal advice"},
				RedirectMessage:  "I can't help with that, but I'm happy to talk about something else.",
				MaxResponseWords: 60,
			},
			PromptTemplate: defaultSystemPrompt,
		},
		LanguageHints: DefaultLanguageHints(),
		Voices:        DefaultVoices(),
	}
}

func DefaultLanguageHints() map[string]string {
	return map[string]string{
		"fr": "(The user is speaking French. Respond in French.)\n",
		"id": "(The user is speaking Indonesian. Respond in English.)\n",
	}
}

// DefaultVoices covers the languages with a bundled kokoro voice.
func DefaultVoices() map[string]VoiceEntry {
	return map[string]VoiceEntry{
		"en": {Voice: "af_heart", Locale: "en-US"},
		"fr": {Voice: "ff_siwis", Locale: "fr-FR"},
		"es": {Voice: "ef_dora", Locale: "es-ES"},
		"it": {Voice: "if_sara", Locale: "it-IT"},
		"pt": {Voice: "pf_dora", Locale: "pt-BR"},
		"ja": {Voice: "jf_alpha", Locale: "ja-JP"},
		"zh": {Voice: "zf_xiaobei", Locale: "zh-CN"},
		"hi": {Voice: "hf_alpha", Locale: "hi-IN"},
	}
}

// LoadAgent reads a persona file. A missing file yields DefaultAgent; other
// read or parse errors are returned. Omitted sections fall back to defaults.
func LoadAgent(path string) (AgentFile, error) {
	def := DefaultAgent()
	path = strings.TrimSpace(path)
	if path == "" {
		return def, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return AgentFile{}, fmt.Errorf("read agent config: %w", err)
	}
	return ParseAgent(raw)
}

func ParseAgent(raw []byte) (AgentFile, error) {
	def := DefaultAgent()
	var f AgentFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return AgentFile{}, fmt.Errorf("parse agent config: %w", err)
	}
	if strings.TrimSpace(f.Agent.Name) == "" {
		f.Agent = def.Agent
	}
	if strings.TrimSpace(f.Agent.PromptTemplate) == "" {
		f.Agent.PromptTemplate = defaultSystemPrompt
	}
	if f.Agent.Boundaries.MaxResponseWords <= 0 {
		f.Agent.Boundaries.MaxResponseWords = def.Agent.Boundaries.MaxResponseWords
	}
	if f.LanguageHints == nil {
		f.LanguageHints = def.LanguageHints
	}
	if len(f.Voices) == 0 {
		f.Voices = def.Voices
	}
	for lang, v := range f.Voices {
		if strings.TrimSpace(v.Voice) == "" || strings.TrimSpace(v.Locale) == "" {
			return AgentFile{}, fmt.Errorf("voices.%s requires both voice and locale", lang)
		}
	}
	return f, nil
}

// SystemPrompt renders the persona template. Placeholders use single braces,
// e.g. {name}; doubled braces produce a literal brace.
func (a Agent) SystemPrompt() string {
	r := strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		"{name}", a.Name,
		"{description}", a.Personality.Description,
		"{traits}", strings.Join(a.Personality.Traits, ", "),
		"{tone}", a.Personality.Tone,
		"{knowledge}", strings.TrimSpace(a.Knowledge.Base),
		"{allowed_topics}", strings.Join(a.Boundaries.AllowedTopics, ", "),
		"{forbidden_topics}", strings.Join(a.Boundaries.ForbiddenTopics, ", "),
		"{redirect_message}", a.Boundaries.RedirectMessage,
		"{max_words}", strconv.Itoa(a.Boundaries.MaxResponseWords),
	)
	return strings.TrimSpace(r.Replace(a.PromptTemplate))
}
