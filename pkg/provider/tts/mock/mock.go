// Package mock provides a test double for tts.Provider. Tests script the
// audio chunks the synthesis channel should emit and inspect the recorded
// calls for the voice and text routing.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall records one SynthesizeStream invocation.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Text  <-chan string
	Voice types.VoiceProfile
}

// ListVoicesCall records one ListVoices invocation.
type ListVoicesCall struct {
	Ctx context.Context
}

// CloneVoiceCall records one CloneVoice invocation with a copy of the samples.
type CloneVoiceCall struct {
	Ctx     context.Context
	Samples [][]byte
}

// Provider is a scripted tts.Provider. Set the result fields before use and
// read the call records afterwards.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted in order on every synthesis channel.
	SynthesizeChunks [][]byte
	SynthesizeErr    error

	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	CloneVoiceResult *types.VoiceProfile
	CloneVoiceErr    error

	SynthesizeStreamCalls []SynthesizeStreamCall
	ListVoicesCalls       []ListVoicesCall
	CloneVoiceCalls       []CloneVoiceCall
}

// SynthesizeStream records the call and returns a channel that emits
// SynthesizeChunks then closes. The incoming text channel is drained in the
// background so the producer never blocks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Text: text, Voice: voice})
	err := p.SynthesizeErr
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		go func() {
			for range text {
			}
		}()
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([][]byte, len(samples))
	copy(cp, samples)
	p.CloneVoiceCalls = append(p.CloneVoiceCalls, CloneVoiceCall{Ctx: ctx, Samples: cp})
	return p.CloneVoiceResult, p.CloneVoiceErr
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
	p.CloneVoiceCalls = nil
}
