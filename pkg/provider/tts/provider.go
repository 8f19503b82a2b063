// Package tts abstracts streaming text-to-speech backends such as ElevenLabs
// or an OpenAI-compatible speech endpoint.
//
// SynthesizeStream takes a channel of text fragments and returns audio as it
// is produced, so model output pipes straight into the mixer without waiting
// for the full reply.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/adagate/pkg/types"
)

// Provider synthesizes speech. Multiple streams may run in parallel, e.g. an
// assistant turn and a voice-over on the same channel.
type Provider interface {
	// SynthesizeStream consumes text fragments and emits raw PCM chunks as
	// they are synthesized, in the requested voice. The implementation closes
	// the audio channel when the text channel is drained or ctx is cancelled;
	// the caller must drain it either way.
	//
	// A non-nil error means the stream never started. Mid-synthesis failures
	// surface as an early close; callers check ctx.Err() to tell cancellation
	// apart from a backend fault.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the backend's current voice catalogue.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice trains a new voice from the given audio samples and returns
	// the backend-assigned profile. Expensive, never called on the hot path.
	// Empty samples are an error, not a panic.
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)
}
