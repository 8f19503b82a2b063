package resilience

import (
	"context"

	"github.com/MrWong99/adagate/pkg/provider/stt"
)

// STTFallback wraps a [FallbackGroup] of transcription backends behind the
// [stt.Provider] interface.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback builds the chain with primary tried first.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after all earlier ones.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a transcription session on the first healthy backend.
// Failover covers only session setup; an established stream that later dies is
// reported through its own event channel.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
