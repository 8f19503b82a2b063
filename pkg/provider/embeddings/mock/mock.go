// Package mock provides a scripted test double for embeddings.Provider.
// Tests set the result fields up front and inspect the recorded calls
// afterwards.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation with a copy of the texts.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a scripted embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned on every Embed call.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult is returned on every EmbedBatch call. When nil, the
	// call returns a slice of nil vectors matching len(texts).
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}
