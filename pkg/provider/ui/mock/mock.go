// Package mock provides a test double for the ui.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/ui"
	"github.com/MrWong99/adagate/pkg/types"
)

// StreamCall records a single invocation of StreamResponse.
type StreamCall struct {
	// Messages is the transcript passed to StreamResponse.
	Messages []types.Message
}

// Provider is a mock implementation of ui.Provider.
// Zero values cause methods to return empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// Fragments is the sequence emitted by StreamResponse before close.
	Fragments []string

	// StreamErr, if non-nil, is returned by StreamResponse instead of a channel.
	StreamErr error

	// InitErr, if non-nil, is returned by Initialize.
	InitErr error

	// CleanupErr, if non-nil, is returned by Cleanup.
	CleanupErr error

	// Prompt is the base system prompt; tool bullets are appended like a real
	// provider.
	Prompt string

	// ProviderKind is returned by Kind; defaults to ui.KindHTML when empty.
	ProviderKind string

	// StreamCalls records every invocation of StreamResponse in order.
	StreamCalls []StreamCall

	// InitCount and CleanupCount count lifecycle calls.
	InitCount    int
	CleanupCount int
}

// Initialize records the call and returns InitErr.
func (p *Provider) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitCount++
	return p.InitErr
}

// StreamResponse records the call and emits Fragments.
func (p *Provider) StreamResponse(ctx context.Context, messages []types.Message) (<-chan string, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.StreamCalls = append(p.StreamCalls, StreamCall{Messages: messages})
		p.mu.Unlock()
		return nil, err
	}
	fragments := make([]string, len(p.Fragments))
	copy(fragments, p.Fragments)
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Messages: msgs})
	p.mu.Unlock()

	ch := make(chan string, len(fragments))
	go func() {
		defer close(ch)
		for _, f := range fragments {
			select {
			case <-ctx.Done():
				return
			case ch <- f:
			}
		}
	}()
	return ch, nil
}

// SystemPrompt returns Prompt with tool bullets appended.
func (p *Provider) SystemPrompt(tools []types.ToolDefinition) string {
	return ui.AppendToolList(p.Prompt, tools)
}

// Cleanup records the call and returns CleanupErr.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CleanupCount++
	return p.CleanupErr
}

// Kind returns ProviderKind, defaulting to ui.KindHTML.
func (p *Provider) Kind() string {
	if p.ProviderKind == "" {
		return ui.KindHTML
	}
	return p.ProviderKind
}

var _ ui.Provider = (*Provider)(nil)
