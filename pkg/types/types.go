// Package types holds the data structures shared across Adagate: audio
// frames, transcripts, chat messages, tool calls, voices. Cross-cutting
// shapes live here so provider packages and the gateway core can exchange
// them without import cycles; anything domain-local stays in its own package.
package types

import "time"

// AudioFrame is the atomic unit of audio transport: captured from the media
// channel, gated by VAD, fed to STT and played back through the mixer.
type AudioFrame struct {
	// Data is raw PCM in the format the pipeline config negotiated.
	Data []byte

	// SampleRate in Hz, 48000 on the WebRTC side and 16000 toward STT.
	SampleRate int

	// Channels per sample, 1 toward STT and 2 for playback.
	Channels int

	// Timestamp of capture, relative to stream start.
	Timestamp time.Duration
}

// Transcript is one speech-to-text result, partial or final.
type Transcript struct {
	Text string

	// IsFinal separates committed results from interim guesses.
	IsFinal bool

	// Confidence in [0,1]; zero when the backend reports none.
	Confidence float64

	// Words carries per-word detail where the backend provides it
	// (Deepgram does), nil otherwise.
	Words []WordDetail

	// Timestamp of utterance start, relative to session start.
	Timestamp time.Duration

	// Duration of the utterance.
	Duration time.Duration
}

// WordDetail is per-word timing and confidence from STT backends that
// report it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost biases STT recognition toward a phrase, typically a proper
// noun the acoustic model would otherwise miss.
type KeywordBoost struct {
	Keyword string

	// Boost intensity on the backend's own scale.
	Boost float64
}

// Message is one entry of a chat history.
type Message struct {
	// Role is "system", "user", "assistant" or "tool".
	Role string

	Content string

	// Name optionally identifies the speaker in multi-participant channels.
	Name string

	// ToolCalls holds the invocations an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string
}

// ToolCall is one model-requested tool invocation.
type ToolCall struct {
	// ID is assigned by the model backend.
	ID string

	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition advertises a callable tool to the model. Tool-server tools
// are namespaced "<server>_<tool>".
type ToolDefinition struct {
	Name string

	// Description goes into the model prompt verbatim.
	Description string

	// Parameters is the JSON Schema of the tool's input.
	Parameters map[string]any
}

// VoiceProfile identifies and tunes one synthesis voice.
type VoiceProfile struct {
	// ID is the backend's voice identifier.
	ID string

	// Name is the human-readable label.
	Name string

	// Provider names the TTS backend this voice belongs to.
	Provider string

	// PitchShift in [-10, 10], 0 leaves the voice untouched.
	PitchShift float64

	// SpeedFactor in [0.5, 2.0], 1.0 is natural rate.
	SpeedFactor float64

	// Metadata carries backend-specific attributes such as gender or accent.
	Metadata map[string]string
}

// ModelCapabilities states what a chat model can do, used for budget and
// feature gating.
type ModelCapabilities struct {
	// ContextWindow is the combined input and output token limit.
	ContextWindow int

	// MaxOutputTokens bounds a single completion.
	MaxOutputTokens int

	// SupportsToolCalling means native function calling.
	SupportsToolCalling bool

	// SupportsVision means image inputs are accepted.
	SupportsVision bool

	// SupportsStreaming means incremental token delivery.
	SupportsStreaming bool
}

// VADEvent is the voice-activity verdict for one audio frame.
type VADEvent struct {
	Type VADEventType

	// Probability of speech in [0,1].
	Probability float64
}

// VADEventType enumerates the detector's frame classifications.
type VADEventType int

const (
	// VADSpeechStart marks the first speech frame after silence.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks speech carrying on.
	VADSpeechContinue

	// VADSpeechEnd marks the transition back to silence.
	VADSpeechEnd

	// VADSilence marks a frame with no speech.
	VADSilence
)
