package resilience

import (
	"context"

	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

// LLMFallback wraps a [FallbackGroup] of chat backends behind the
// [llm.Provider] interface, so the dialogue loop never knows which model
// actually answered.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds the chain with primary tried first.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after all earlier ones.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete answers the request from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a token stream on the first healthy backend. Failover
// covers only stream setup; once chunks are flowing, a mid-stream error ends
// the turn rather than replaying it elsewhere.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens estimates with the first healthy backend's tokenizer.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// fail over; a mismatch between primary and fallback limits is a config
// problem, not a runtime one.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.members) > 0 {
		return f.group.members[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
