package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string
	AgentConfigPath  string

	SessionRetention   time.Duration
	JanitorInterval    time.Duration
	MinAudioChunkBytes int
	MaxAudioChunkBytes int
	ArchiveTimeout     time.Duration

	FFmpegPath       string
	TranscodeTimeout time.Duration

	STTProvider         string
	STTFallbackLanguage string
	WhisperCLI          string
	WhisperModelPath    string
	WhisperVADModelPath string
	WhisperThreads      int
	WhisperBeamSize     int
	STTRemoteURL        string
	STTRemoteAPIKey     string
	STTRemoteModel      string

	LLMProvider        string
	LLMModel           string
	LLMTemperature     float64
	LLMMaxOutputTokens int
	GeminiAPIKey       string
	ArkAPIKey          string
	ArkModel           string
	ArkBaseURL         string
	LLMHTTPURL         string

	SummaryTemperature     float64
	SummaryMaxOutputTokens int
	SummaryTimeout         time.Duration

	TTSVariant       string
	TTSEngine        string
	TTSFixedLanguage string
	TTSFixedVoice    string
	TTSDefaultLang   string

	KokoroPython       string
	KokoroWorkerScript string
	KokoroSpeed        float64

	ElevenLabsAPIKey       string
	ElevenLabsWSBaseURL    string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "livevoice"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "console"),
		AgentConfigPath:  envOrDefault("APP_AGENT_CONFIG", "config/agent.yaml"),
		ShutdownTimeout:  15 * time.Second,
		SessionRetention: 30 * time.Minute,
		JanitorInterval:  time.Minute,
		// Browser recorders emit a container header of a few hundred bytes
		// before any audio frame; smaller chunks cannot hold speech.
		MinAudioChunkBytes: 1000,
		MaxAudioChunkBytes: 10 << 20,
		ArchiveTimeout:     5 * time.Second,

		FFmpegPath:       envOrDefault("TRANSCODER_FFMPEG_PATH", "ffmpeg"),
		TranscodeTimeout: 15 * time.Second,

		STTProvider:         envOrDefault("STT_PROVIDER", "auto"),
		STTFallbackLanguage: envOrDefault("STT_FALLBACK_LANGUAGE", "en"),
		WhisperCLI:          envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath:    envOrDefault("WHISPER_MODEL_PATH", ".models/whisper/ggml-small.bin"),
		WhisperVADModelPath: stringsTrimSpace("WHISPER_VAD_MODEL_PATH"),
		// 0 means "auto" (picked based on CPU count).
		WhisperThreads:  0,
		WhisperBeamSize: 5,
		STTRemoteURL:    stringsTrimSpace("STT_REMOTE_URL"),
		STTRemoteAPIKey: stringsTrimSpace("STT_REMOTE_API_KEY"),
		STTRemoteModel:  envOrDefault("STT_REMOTE_MODEL", "whisper-1"),

		LLMProvider:        envOrDefault("LLM_PROVIDER", "auto"),
		LLMModel:           envOrDefault("LLM_MODEL", "gemini-2.5-flash"),
		LLMTemperature:     0.7,
		LLMMaxOutputTokens: 512,
		GeminiAPIKey:       stringsTrimSpace("GEMINI_API_KEY"),
		ArkAPIKey:          stringsTrimSpace("ARK_API_KEY"),
		ArkModel:           stringsTrimSpace("ARK_MODEL"),
		ArkBaseURL:         envOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		LLMHTTPURL:         stringsTrimSpace("LLM_HTTP_URL"),

		SummaryTemperature:     0.3,
		SummaryMaxOutputTokens: 512,
		SummaryTimeout:         30 * time.Second,

		TTSVariant:       envOrDefault("TTS_VARIANT", "fixed"),
		TTSEngine:        envOrDefault("TTS_ENGINE", "auto"),
		TTSFixedLanguage: envOrDefault("TTS_FIXED_LANGUAGE", "fr"),
		TTSFixedVoice:    envOrDefault("TTS_FIXED_VOICE", "ff_siwis"),
		TTSDefaultLang:   envOrDefault("TTS_DEFAULT_LANGUAGE", "en"),

		KokoroPython:       stringsTrimSpace("KOKORO_PYTHON"),
		KokoroWorkerScript: envOrDefault("KOKORO_WORKER_SCRIPT", "scripts/kokoro_worker.py"),
		KokoroSpeed:        1.0,

		ElevenLabsAPIKey:       stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:    envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsVoiceID:      envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_RETENTION", &cfg.SessionRetention},
		{"APP_JANITOR_INTERVAL", &cfg.JanitorInterval},
		{"APP_ARCHIVE_TIMEOUT", &cfg.ArchiveTimeout},
		{"TRANSCODER_TIMEOUT", &cfg.TranscodeTimeout},
		{"SUMMARY_TIMEOUT", &cfg.SummaryTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"APP_MIN_AUDIO_CHUNK_BYTES", &cfg.MinAudioChunkBytes},
		{"APP_MAX_AUDIO_CHUNK_BYTES", &cfg.MaxAudioChunkBytes},
		{"WHISPER_THREADS", &cfg.WhisperThreads},
		{"WHISPER_BEAM_SIZE", &cfg.WhisperBeamSize},
		{"LLM_MAX_OUTPUT_TOKENS", &cfg.LLMMaxOutputTokens},
		{"SUMMARY_MAX_OUTPUT_TOKENS", &cfg.SummaryMaxOutputTokens},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"LLM_TEMPERATURE", &cfg.LLMTemperature},
		{"SUMMARY_TEMPERATURE", &cfg.SummaryTemperature},
		{"KOKORO_SPEED", &cfg.KokoroSpeed},
	}
	for _, f := range floats {
		if *f.dst, err = floatFromEnv(f.key, *f.dst); err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionRetention < 0 {
		return fmt.Errorf("APP_SESSION_RETENTION must be >= 0")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("APP_JANITOR_INTERVAL must be positive")
	}
	if c.MinAudioChunkBytes < 0 {
		return fmt.Errorf("APP_MIN_AUDIO_CHUNK_BYTES must be >= 0")
	}
	if c.MaxAudioChunkBytes <= c.MinAudioChunkBytes {
		return fmt.Errorf("APP_MAX_AUDIO_CHUNK_BYTES must exceed APP_MIN_AUDIO_CHUNK_BYTES")
	}
	if c.TranscodeTimeout <= 0 {
		return fmt.Errorf("TRANSCODER_TIMEOUT must be positive")
	}
	if c.WhisperThreads < 0 {
		return fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	if c.WhisperBeamSize <= 0 {
		return fmt.Errorf("WHISPER_BEAM_SIZE must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0,2]")
	}
	if c.SummaryTemperature < 0 || c.SummaryTemperature > 2 {
		return fmt.Errorf("SUMMARY_TEMPERATURE must be within [0,2]")
	}
	if c.LLMMaxOutputTokens <= 0 || c.SummaryMaxOutputTokens <= 0 {
		return fmt.Errorf("LLM_MAX_OUTPUT_TOKENS and SUMMARY_MAX_OUTPUT_TOKENS must be positive")
	}
	if c.KokoroSpeed <= 0 {
		return fmt.Errorf("KOKORO_SPEED must be positive")
	}
	if strings.TrimSpace(c.STTFallbackLanguage) == "" {
		return fmt.Errorf("STT_FALLBACK_LANGUAGE must not be empty")
	}
	if err := oneOf("STT_PROVIDER", c.STTProvider, "auto", "whisper", "remote", "mock"); err != nil {
		return err
	}
	if err := oneOf("LLM_PROVIDER", c.LLMProvider, "auto", "gemini", "ark", "http", "mock"); err != nil {
		return err
	}
	if err := oneOf("TTS_VARIANT", c.TTSVariant, "fixed", "mapped", "neural", "mock"); err != nil {
		return err
	}
	return oneOf("TTS_ENGINE", c.TTSEngine, "auto", "kokoro", "elevenlabs", "mock")
}

func oneOf(key, value string, allowed ...string) error {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (expected %s)", key, value, strings.Join(allowed, "|"))
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
