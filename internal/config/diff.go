package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when the default TTS voice changed. New media
	// channels pick up the new voice; established channels keep the old one.
	VoiceChanged bool
	NewVoice     VoiceConfig

	// PromptChanged is true when the voice-path system prompt changed.
	PromptChanged bool
	NewPrompt     string

	// KeywordsChanged is true when the STT keyword boost list changed.
	KeywordsChanged bool
	NewKeywords     []KeywordConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Media.Voice != new.Media.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Media.Voice
	}

	if old.Media.SystemPrompt != new.Media.SystemPrompt {
		d.PromptChanged = true
		d.NewPrompt = new.Media.SystemPrompt
	}

	if !slices.Equal(old.Media.Keywords, new.Media.Keywords) {
		d.KeywordsChanged = true
		d.NewKeywords = new.Media.Keywords
	}

	return d
}
