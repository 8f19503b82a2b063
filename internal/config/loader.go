package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/adagate/internal/toolhost"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "openai"},
	"tts":        {"elevenlabs", "openai"},
	"embeddings": {"openai"},
	"vad":        {"silero"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; connections will not be able to generate replies")
	}
	if cfg.Providers.STT.Name == "" || cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.stt or providers.tts is not configured; media channels will be rejected")
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history will not survive restarts")
	}

	// Media defaults
	if cfg.Media.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("media.capture_sample_rate %d is negative", cfg.Media.CaptureSampleRate))
	}
	if cfg.Media.PlaybackSampleRate < 0 {
		errs = append(errs, fmt.Errorf("media.playback_sample_rate %d is negative", cfg.Media.PlaybackSampleRate))
	}
	if cfg.Media.Voice.SpeedFactor != 0 {
		if cfg.Media.Voice.SpeedFactor < 0.5 || cfg.Media.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("media.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Media.Voice.SpeedFactor))
		}
	}
	if cfg.Media.Voice.PitchShift < -10 || cfg.Media.Voice.PitchShift > 10 {
		errs = append(errs, fmt.Errorf("media.voice.pitch_shift %.2f is out of range [-10, 10]", cfg.Media.Voice.PitchShift))
	}
	for i, kw := range cfg.Media.Keywords {
		if kw.Phrase == "" {
			errs = append(errs, fmt.Errorf("media.keywords[%d].phrase is required", i))
		}
	}

	// Voice provider ↔ TTS provider cross-validation
	if cfg.Media.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.Media.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("media voice provider does not match configured TTS provider",
			"voice_provider", cfg.Media.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Tool servers
	namesSeen := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: http, websocket, stdio", prefix, srv.Transport))
		}
		if srv.Transport == toolhost.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if (srv.Transport == toolhost.TransportHTTP || srv.Transport == toolhost.TransportWebsocket) && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is %s", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
