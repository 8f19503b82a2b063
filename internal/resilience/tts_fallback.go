package resilience

import (
	"context"

	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/types"
)

// TTSFallback wraps a [FallbackGroup] of synthesis backends behind the
// [tts.Provider] interface.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback builds the chain with primary tried first.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after all earlier ones.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream starts synthesis on the first healthy backend. Failover
// covers only stream setup, not errors after audio starts flowing. Note that
// falling back mid-conversation can audibly change the voice.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices lists voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// CloneVoice builds a voice profile on the first healthy backend.
func (f *TTSFallback) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*types.VoiceProfile, error) {
		return p.CloneVoice(ctx, samples)
	})
}
