// Package mock provides a scripted test double for llm.Provider. Tests set
// the result fields up front and inspect the recorded calls afterwards; zero
// result fields return zero values with nil errors.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall records one CountTokens invocation with a copy of the
// messages.
type CountTokensCall struct {
	Messages []types.Message
}

// Provider is a scripted llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on every stream before it closes.
	StreamChunks []llm.Chunk
	StreamErr    error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

// StreamCompletion records the call and returns a channel that emits
// StreamChunks then closes, or StreamErr without opening a channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	err := p.StreamErr
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: msgs})
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}
